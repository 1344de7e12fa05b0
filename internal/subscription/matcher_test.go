package subscription

import (
	"context"
	"testing"

	"cvewatch/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSightings struct {
	seen map[string]struct{}
}

func newMemSightings() *memSightings {
	return &memSightings{seen: map[string]struct{}{}}
}

func (s *memSightings) key(org, project, cveID string) string {
	return org + "/" + project + "/" + cveID
}

func (s *memSightings) HasSeen(_ context.Context, org, project, cveID string) (bool, error) {
	_, ok := s.seen[s.key(org, project, cveID)]
	return ok, nil
}

func (s *memSightings) MarkSeen(_ context.Context, org, project, cveID string) error {
	s.seen[s.key(org, project, cveID)] = struct{}{}
	return nil
}

func project(org, name string, tokens ...string) *model.Project {
	return &model.Project{Organization: org, Name: name, Subscriptions: tokens}
}

func TestIndexLookup_Intersection(t *testing.T) {
	p1 := project("acme", "backend", "apache", "nginx", "microsoft$PRODUCT$windows_server")
	p2 := project("acme", "frontend", "nginx")
	p3 := project("other", "infra", "linux")
	ix := NewIndex([]*model.Project{p1, p2, p3})

	matches := ix.Lookup([]string{"apache", "nginx"})
	require.Len(t, matches, 2)
	assert.Same(t, p1, matches[0].Project)
	assert.Equal(t, []string{"apache", "nginx"}, matches[0].MatchedTokens)
	assert.Same(t, p2, matches[1].Project)
	assert.Equal(t, []string{"nginx"}, matches[1].MatchedTokens)

	assert.Empty(t, ix.Lookup([]string{"oracle"}))
}

func TestIndexLookup_VendorAndProductStayDistinct(t *testing.T) {
	p := project("acme", "backend", "microsoft", "microsoft$PRODUCT$windows_server")
	ix := NewIndex([]*model.Project{p})

	matches := ix.Lookup([]string{"microsoft", "microsoft$PRODUCT$windows_server"})
	require.Len(t, matches, 1)
	assert.Equal(t, []string{"microsoft", "microsoft$PRODUCT$windows_server"}, matches[0].MatchedTokens)
}

func TestMatchRecord_FirstTimeIsProjectRelative(t *testing.T) {
	p1 := project("acme", "backend", "apache")
	p2 := project("acme", "frontend", "apache")
	sightings := newMemSightings()
	// frontend already knows this record
	require.NoError(t, sightings.MarkSeen(context.Background(), "acme", "frontend", "CVE-2024-0001"))

	m := NewMatcher(NewIndex([]*model.Project{p1, p2}), sightings)
	rec := &model.CanonicalRecord{CVEID: "CVE-2024-0001", Vendors: []string{"apache"}}
	events := []model.ChangeEvent{{CVEID: rec.CVEID, Type: model.EventMetrics, Data: model.MetricsData{}}}

	matches, err := m.MatchRecord(context.Background(), rec, events)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	types := func(pm ProjectMatch) []model.EventType {
		var out []model.EventType
		for _, e := range pm.Events {
			out = append(out, e.Type)
		}
		return out
	}

	assert.Equal(t, []model.EventType{model.EventFirstTime, model.EventMetrics}, types(matches[0]),
		"backend sees the record for the first time")
	assert.Equal(t, []model.EventType{model.EventMetrics}, types(matches[1]),
		"frontend saw it before, no first_time")

	// Second run: no more first_time for anyone.
	matches, err = m.MatchRecord(context.Background(), rec, events)
	require.NoError(t, err)
	for _, pm := range matches {
		assert.Equal(t, []model.EventType{model.EventMetrics}, types(pm))
	}
}

func TestMatchRecord_FirstTimeOrderedAfterCreated(t *testing.T) {
	p := project("acme", "backend", "apache")
	m := NewMatcher(NewIndex([]*model.Project{p}), newMemSightings())
	rec := &model.CanonicalRecord{CVEID: "CVE-2024-0001", Vendors: []string{"apache"}}
	events := []model.ChangeEvent{{CVEID: rec.CVEID, Type: model.EventCreated, Data: model.CreatedData{}}}

	matches, err := m.MatchRecord(context.Background(), rec, events)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Len(t, matches[0].Events, 2)
	assert.Equal(t, model.EventCreated, matches[0].Events[0].Type)
	assert.Equal(t, model.EventFirstTime, matches[0].Events[1].Type)

	first := matches[0].Events[1].Data.(model.FirstTimeData)
	assert.Equal(t, []string{"apache"}, first.Subscriptions)
}

func TestMatchRecord_NoTokensNoMatches(t *testing.T) {
	p := project("acme", "backend", "apache")
	m := NewMatcher(NewIndex([]*model.Project{p}), newMemSightings())
	rec := &model.CanonicalRecord{CVEID: "CVE-2024-0001"}

	matches, err := m.MatchRecord(context.Background(), rec, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
