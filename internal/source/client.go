package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cvewatch/internal/model"
)

// Client fetches changed vulnerability entries from an OSV-style feed and
// normalizes them into raw records for the merge stage. The source name is
// stamped on every fetched record; priority ranking happens later.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	Source     string
}

func NewClient(baseURL, source string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    baseURL,
		Source:     source,
	}
}

type feedResponse struct {
	Results []feedEntry `json:"results"`
}

type feedEntry struct {
	ID         string    `json:"id"`
	Aliases    []string  `json:"aliases"`
	Summary    string    `json:"summary"`
	Details    string    `json:"details"`
	Modified   time.Time `json:"modified"`
	References []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"references"`
	Affected []struct {
		Package struct {
			Name      string `json:"name"`
			Ecosystem string `json:"ecosystem"`
		} `json:"package"`
	} `json:"affected"`
	DatabaseSpecific struct {
		CVSSScore *float64 `json:"cvss_score"`
	} `json:"database_specific"`
}

// FetchSince returns every entry modified since the given time as raw
// records. Entries without a CVE identifier are dropped: they can never merge
// into a canonical record.
func (c *Client) FetchSince(ctx context.Context, since time.Time) ([]model.RawRecord, error) {
	u := fmt.Sprintf("%s/v1/changed?since=%s", c.BaseURL, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status: %s", resp.Status)
	}

	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode feed response: %w", err)
	}

	var raws []model.RawRecord
	for _, entry := range feed.Results {
		id := cveIdentifier(entry)
		if id == "" {
			continue
		}

		raw := model.RawRecord{
			Source:     c.Source,
			CVEID:      id,
			Score:      entry.DatabaseSpecific.CVSSScore,
			ModifiedAt: entry.Modified,
		}
		if entry.Summary != "" {
			summary := entry.Summary
			raw.Title = &summary
		}
		if entry.Details != "" {
			details := entry.Details
			raw.Description = &details
		}
		for _, ref := range entry.References {
			raw.References = append(raw.References, ref.URL)
		}
		for _, aff := range entry.Affected {
			if name := aff.Package.Name; name != "" {
				raw.Vendors = append(raw.Vendors, strings.ToLower(name))
			}
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// cveIdentifier picks the CVE id for an entry: the entry's own id when it is
// a CVE, otherwise the first CVE alias.
func cveIdentifier(entry feedEntry) string {
	if strings.HasPrefix(entry.ID, "CVE-") {
		return entry.ID
	}
	for _, alias := range entry.Aliases {
		if strings.HasPrefix(alias, "CVE-") {
			return alias
		}
	}
	return ""
}
