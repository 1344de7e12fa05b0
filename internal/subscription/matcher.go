package subscription

import (
	"context"
	"fmt"

	"cvewatch/internal/model"
)

// SightingStore remembers which (project, record) pairs a project has already
// seen, so first_time stays project-relative rather than global.
type SightingStore interface {
	HasSeen(ctx context.Context, org, project, cveID string) (bool, error)
	MarkSeen(ctx context.Context, org, project, cveID string) error
}

// Matcher intersects changed records with the subscription index and
// synthesizes per-project first_time events.
type Matcher struct {
	index     *Index
	sightings SightingStore
}

func NewMatcher(index *Index, sightings SightingStore) *Matcher {
	return &Matcher{index: index, sightings: sightings}
}

// ProjectMatch is the outcome of matching one record for one project: the
// matched subscription subset and the record's events with any synthesized
// first_time event spliced in at its enumeration position.
type ProjectMatch struct {
	Project       *model.Project
	MatchedTokens []string
	Events        []model.ChangeEvent
}

// MatchRecord computes, for every subscribed project, which subscriptions
// matched the record and which events that project receives. The first time a
// project's subscriptions intersect this record's token set, a first_time
// event is added for that project; this is distinct from the record's global
// created event.
func (m *Matcher) MatchRecord(ctx context.Context, rec *model.CanonicalRecord, events []model.ChangeEvent) ([]ProjectMatch, error) {
	tokens := rec.Tokens()
	if len(tokens) == 0 {
		return nil, nil
	}

	var out []ProjectMatch
	for _, match := range m.index.Lookup(tokens) {
		p := match.Project
		projEvents := append([]model.ChangeEvent(nil), events...)

		seen, err := m.sightings.HasSeen(ctx, p.Organization, p.Name, rec.CVEID)
		if err != nil {
			return nil, fmt.Errorf("checking sighting of %s for %s/%s: %w", rec.CVEID, p.Organization, p.Name, err)
		}
		if !seen {
			first := model.ChangeEvent{
				CVEID:     rec.CVEID,
				Type:      model.EventFirstTime,
				Data:      model.FirstTimeData{Subscriptions: match.MatchedTokens},
				CreatedAt: rec.UpdatedAt,
			}
			projEvents = spliceByRank(projEvents, first)
			if err := m.sightings.MarkSeen(ctx, p.Organization, p.Name, rec.CVEID); err != nil {
				return nil, fmt.Errorf("marking sighting of %s for %s/%s: %w", rec.CVEID, p.Organization, p.Name, err)
			}
		}

		out = append(out, ProjectMatch{
			Project:       p,
			MatchedTokens: match.MatchedTokens,
			Events:        projEvents,
		})
	}
	return out, nil
}

// spliceByRank inserts ev while keeping the enumeration ordering contract
// (created first, then first_time, then the attribute events).
func spliceByRank(events []model.ChangeEvent, ev model.ChangeEvent) []model.ChangeEvent {
	pos := len(events)
	for i, e := range events {
		if ev.Type.Rank() < e.Type.Rank() {
			pos = i
			break
		}
	}
	events = append(events, model.ChangeEvent{})
	copy(events[pos+1:], events[pos:])
	events[pos] = ev
	return events
}
