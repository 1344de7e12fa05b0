package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"cvewatch/internal/model"
)

// LoadRawBatch reads a JSON array of raw source records from path. Individual
// record validity is not checked here; the merge stage skips and counts
// malformed entries so one bad record never sinks the batch.
func LoadRawBatch(path string) ([]model.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading raw batch: %w", err)
	}
	var raws []model.RawRecord
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parsing raw batch %s: %w", path, err)
	}
	return raws, nil
}

// LoadProjects reads project definitions from a JSON array and validates each
// one. A single invalid project fails the load: partial project sets would
// silently drop notifications.
func LoadProjects(path string) ([]*model.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading projects: %w", err)
	}
	var projects []*model.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("parsing projects %s: %w", path, err)
	}
	for _, p := range projects {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("project %s/%s: %w", p.Organization, p.Name, err)
		}
	}
	return projects, nil
}

// groupByCVE buckets raw records by identifier, preserving batch order within
// each bucket.
func groupByCVE(raws []model.RawRecord) map[string][]model.RawRecord {
	groups := make(map[string][]model.RawRecord)
	for _, r := range raws {
		groups[r.CVEID] = append(groups[r.CVEID], r)
	}
	return groups
}
