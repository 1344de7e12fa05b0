// Package change turns a merged canonical record and its prior snapshot into
// an ordered list of typed change events.
package change

import (
	"cvewatch/internal/model"
)

// Extract compares the newly merged record with the prior persisted snapshot
// and emits zero or more events. A record with no prior snapshot emits exactly
// one created event. Events come out in the contractual enumeration order;
// sequence numbers are assigned by the event store on append.
func Extract(prior, merged *model.CanonicalRecord) []model.ChangeEvent {
	if prior == nil {
		return []model.ChangeEvent{{
			CVEID:     merged.CVEID,
			Type:      model.EventCreated,
			Data:      model.CreatedData{},
			CreatedAt: merged.UpdatedAt,
		}}
	}

	var events []model.ChangeEvent
	emit := func(t model.EventType, data model.EventData) {
		events = append(events, model.ChangeEvent{
			CVEID:     merged.CVEID,
			Type:      t,
			Data:      data,
			CreatedAt: merged.UpdatedAt,
		})
	}

	if !scoreEqual(prior.Score, merged.Score) {
		emit(model.EventMetrics, model.MetricsData{Old: prior.Score, New: merged.Score})
	}
	if added, removed, changed := diffSet(prior.CPEs, merged.CPEs); changed {
		emit(model.EventCPEs, model.SetChangeData{Added: added, Removed: removed})
	}
	if added, removed, changed := diffSet(prior.Vendors, merged.Vendors); changed {
		emit(model.EventVendors, model.SetChangeData{Added: added, Removed: removed})
	}
	if added, removed, changed := diffSet(prior.Weaknesses, merged.Weaknesses); changed {
		emit(model.EventWeaknesses, model.SetChangeData{Added: added, Removed: removed})
	}
	if added, removed, changed := diffSet(prior.References, merged.References); changed {
		emit(model.EventReferences, model.ReferencesData{Added: added, Removed: removed})
	}
	if prior.Description != merged.Description {
		emit(model.EventDescription, model.TextChangeData{Old: prior.Description, New: merged.Description})
	}
	if prior.Title != merged.Title {
		emit(model.EventTitle, model.TextChangeData{Old: prior.Title, New: merged.Title})
	}
	return events
}

func scoreEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// diffSet computes the added/removed breakdown between two sorted sets.
func diffSet(old, new []string) (added, removed []string, changed bool) {
	oldSet := make(map[string]struct{}, len(old))
	for _, v := range old {
		oldSet[v] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new))
	for _, v := range new {
		newSet[v] = struct{}{}
	}
	added = []string{}
	removed = []string{}
	for _, v := range new {
		if _, ok := oldSet[v]; !ok {
			added = append(added, v)
		}
	}
	for _, v := range old {
		if _, ok := newSet[v]; !ok {
			removed = append(removed, v)
		}
	}
	return added, removed, len(added) > 0 || len(removed) > 0
}
