package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cvewatch/internal/model"
)

// RecordStore is the slice of the storage layer the merger needs.
type RecordStore interface {
	GetRecord(ctx context.Context, cveID string) (*model.CanonicalRecord, error)
	PutRecord(ctx context.Context, rec *model.CanonicalRecord) error
}

// Merger combines per-source raw records into canonical records. Sources are
// ranked by a fixed total order; the highest-ranked source that supplied a
// field wins that field. Merges for the same identifier serialize on a
// per-identifier lock.
type Merger struct {
	store RecordStore
	ranks map[string]int
	locks *keyedMutex
	now   func() time.Time
}

// NewMerger builds a merger with the given source priority, highest first.
func NewMerger(store RecordStore, priority []string) *Merger {
	ranks := make(map[string]int, len(priority))
	for i, s := range priority {
		ranks[s] = i
	}
	return &Merger{
		store: store,
		ranks: ranks,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// Result pairs the prior snapshot with the newly merged record, ready for
// change extraction.
type Result struct {
	Prior  *model.CanonicalRecord
	Merged *model.CanonicalRecord
}

// MergeOne merges all raw records for one identifier, persists the outcome and
// returns both snapshots. Malformed raw records are skipped and logged; if none
// survive, MergeOne reports an error without touching the store.
func (m *Merger) MergeOne(ctx context.Context, cveID string, raws []model.RawRecord) (Result, error) {
	valid := raws[:0:0]
	for _, r := range raws {
		if err := r.Validate(); err != nil {
			slog.Warn("skipping malformed raw record", "cve", cveID, "error", err)
			continue
		}
		if r.CVEID != cveID {
			slog.Warn("skipping raw record with mismatched identifier", "want", cveID, "got", r.CVEID)
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return Result{}, fmt.Errorf("no valid raw records for %s", cveID)
	}

	m.locks.Lock(cveID)
	defer m.locks.Unlock(cveID)

	prior, err := m.store.GetRecord(ctx, cveID)
	if err != nil {
		return Result{}, fmt.Errorf("loading canonical record %s: %w", cveID, err)
	}

	merged := Merge(prior, m.rank(valid))
	merged.UpdatedAt = m.now()

	if err := m.store.PutRecord(ctx, merged); err != nil {
		return Result{}, fmt.Errorf("persisting canonical record %s: %w", cveID, err)
	}
	return Result{Prior: prior, Merged: merged}, nil
}

// rank sorts raw records best-source-first, unknown sources last. The sort is
// stable so ties keep batch order.
func (m *Merger) rank(raws []model.RawRecord) []model.RawRecord {
	out := append([]model.RawRecord(nil), raws...)
	sort.SliceStable(out, func(i, j int) bool {
		return m.rankOf(out[i].Source) < m.rankOf(out[j].Source)
	})
	return out
}

func (m *Merger) rankOf(source string) int {
	if r, ok := m.ranks[source]; ok {
		return r
	}
	return len(m.ranks)
}

// Merge is a pure function from a prior snapshot (nil when the identifier is
// new) and ranked raw inputs (best first) to a new canonical record. Each field
// takes the value of the best-ranked source that supplied it this run; fields
// no source supplied keep their prior value and provenance.
func Merge(prior *model.CanonicalRecord, ranked []model.RawRecord) *model.CanonicalRecord {
	rec := prior.Clone()
	if rec == nil {
		rec = &model.CanonicalRecord{CVEID: ranked[0].CVEID}
	}
	if rec.Provenance == nil {
		rec.Provenance = map[string]string{}
	}

	pick := func(field string, apply func(model.RawRecord) bool) {
		for _, raw := range ranked {
			if apply(raw) {
				rec.Provenance[field] = raw.Source
				return
			}
		}
	}

	pick(model.FieldTitle, func(r model.RawRecord) bool {
		if r.Title == nil {
			return false
		}
		rec.Title = *r.Title
		return true
	})
	pick(model.FieldDescription, func(r model.RawRecord) bool {
		if r.Description == nil {
			return false
		}
		rec.Description = *r.Description
		return true
	})
	pick(model.FieldScore, func(r model.RawRecord) bool {
		if r.Score == nil {
			return false
		}
		score := *r.Score
		rec.Score = &score
		return true
	})
	pick(model.FieldVendors, func(r model.RawRecord) bool {
		if r.Vendors == nil {
			return false
		}
		rec.Vendors = normalizeSet(r.Vendors)
		return true
	})
	pick(model.FieldCPEs, func(r model.RawRecord) bool {
		if r.CPEs == nil {
			return false
		}
		rec.CPEs = normalizeSet(r.CPEs)
		return true
	})
	pick(model.FieldWeaknesses, func(r model.RawRecord) bool {
		if r.Weaknesses == nil {
			return false
		}
		rec.Weaknesses = normalizeSet(r.Weaknesses)
		return true
	})
	pick(model.FieldReferences, func(r model.RawRecord) bool {
		if r.References == nil {
			return false
		}
		rec.References = normalizeSet(r.References)
		return true
	})

	return rec
}

func normalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
