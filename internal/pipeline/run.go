package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"cvewatch/internal/change"
	"cvewatch/internal/db"
	"cvewatch/internal/merge"
	"cvewatch/internal/metrics"
	"cvewatch/internal/model"
	"cvewatch/internal/notify"
	"cvewatch/internal/report"
	"cvewatch/internal/runner"
	"cvewatch/internal/subscription"
)

// Options controls one pipeline construction.
type Options struct {
	SourcePriority []string
	MergeWorkers   int
	Dispatcher     *notify.Dispatcher
	Metrics        *metrics.Metrics // optional
}

// Pipeline runs the full batch flow: merge raw records, extract change
// events, match subscriptions, build reports and dispatch them. Stages are
// separated by barriers, so matching only ever sees fully merged records.
type Pipeline struct {
	store      db.Store
	merger     *merge.Merger
	dispatcher *notify.Dispatcher
	workers    int
	metrics    *metrics.Metrics
}

// New assembles a pipeline on top of the given store.
func New(store db.Store, opts Options) *Pipeline {
	workers := opts.MergeWorkers
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		store:      store,
		merger:     merge.NewMerger(store, opts.SourcePriority),
		dispatcher: opts.Dispatcher,
		workers:    workers,
		metrics:    opts.Metrics,
	}
}

// Summary reports what one run did at each stage.
type Summary struct {
	RawRecords       int           `json:"raw_records"`
	RecordsMerged    int           `json:"records_merged"`
	MalformedRecords int           `json:"malformed_records"`
	ChangedRecords   int           `json:"changed_records"`
	Events           int           `json:"events"`
	ReportsBuilt     int           `json:"reports_built"`
	ReportsDiscarded int           `json:"reports_discarded"`
	Duration         time.Duration `json:"duration"`
}

// changedRecord is a merged record whose extraction produced events, carried
// between the extract and match stages.
type changedRecord struct {
	record *model.CanonicalRecord
	events []model.ChangeEvent
}

// Run processes one raw batch against the given projects for the run window.
// Malformed raw records are skipped and counted, never fatal; storage errors
// abort the run.
func (pl *Pipeline) Run(ctx context.Context, raws []model.RawRecord, projects []*model.Project, period model.Period) (*Summary, error) {
	start := time.Now()
	summary, err := pl.run(ctx, raws, projects, period)
	elapsed := time.Since(start)

	if pl.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		pl.metrics.RunsTotal.WithLabelValues(status).Inc()
		pl.metrics.RunDuration.Observe(elapsed.Seconds())
	}
	if err != nil {
		return nil, err
	}
	summary.Duration = elapsed
	slog.Info("pipeline run complete",
		"raw_records", summary.RawRecords,
		"merged", summary.RecordsMerged,
		"malformed", summary.MalformedRecords,
		"changed", summary.ChangedRecords,
		"reports_built", summary.ReportsBuilt,
		"duration", elapsed)
	return summary, nil
}

func (pl *Pipeline) run(ctx context.Context, raws []model.RawRecord, projects []*model.Project, period model.Period) (*Summary, error) {
	summary := &Summary{RawRecords: len(raws)}

	for _, r := range raws {
		if r.Validate() != nil {
			summary.MalformedRecords++
		}
	}
	if pl.metrics != nil && summary.MalformedRecords > 0 {
		pl.metrics.MalformedRecords.Add(float64(summary.MalformedRecords))
	}

	// Stage 1: merge. Groups run in parallel; the keyed lock inside the
	// merger keeps per-identifier merges serialized regardless.
	groups := groupByCVE(raws)
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var mu sync.Mutex
	results := make(map[string]merge.Result, len(ids))

	pool := runner.NewWorkerPool(pl.workers)
	pool.Start()
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		id := id
		group := groups[id]
		pool.Submit(func() error {
			res, err := pl.merger.MergeOne(ctx, id, group)
			if err != nil {
				slog.Warn("merge failed for record", "cve", id, "error", err)
				return nil
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	pool.Wait()
	pool.Stop()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary.RecordsMerged = len(results)
	if pl.metrics != nil {
		pl.metrics.RecordsMerged.Add(float64(len(results)))
	}

	// Stage 2: extract and persist change events. Sequence numbers are
	// assigned by the store on append.
	var changed []changedRecord
	for _, id := range ids {
		res, ok := results[id]
		if !ok {
			continue
		}
		events := change.Extract(res.Prior, res.Merged)
		if len(events) == 0 {
			continue
		}
		stored, err := pl.store.AppendEvents(ctx, events)
		if err != nil {
			return nil, fmt.Errorf("appending events for %s: %w", id, err)
		}
		if pl.metrics != nil {
			for _, ev := range stored {
				pl.metrics.ChangeEvents.WithLabelValues(string(ev.Type)).Inc()
			}
		}
		summary.Events += len(stored)
		changed = append(changed, changedRecord{record: res.Merged, events: stored})
	}
	summary.ChangedRecords = len(changed)

	// Recover events an earlier, interrupted run already persisted for this
	// window, so a re-run still builds and delivers the pending reports. The
	// (notification, period) idempotency key keeps anything the earlier run
	// did deliver from going out twice.
	changed, err := pl.recoverWindowEvents(ctx, changed, period)
	if err != nil {
		return nil, err
	}
	if len(changed) > summary.ChangedRecords {
		slog.Info("recovered persisted events for this window",
			"records", len(changed)-summary.ChangedRecords)
		summary.ChangedRecords = len(changed)
	}

	// Stage 3: match subscriptions and fold per-project record views.
	matcher := subscription.NewMatcher(subscription.NewIndex(projects), pl.store)
	perProject := make(map[*model.Project][]report.MatchedRecord)
	for _, cr := range changed {
		matches, err := matcher.MatchRecord(ctx, cr.record, cr.events)
		if err != nil {
			return nil, fmt.Errorf("matching %s: %w", cr.record.CVEID, err)
		}
		for _, m := range matches {
			perProject[m.Project] = append(perProject[m.Project], report.MatchedRecord{
				Record:        cr.record,
				MatchedTokens: m.MatchedTokens,
				Events:        m.Events,
			})
		}
	}

	// Stage 4: build one report per enabled notification.
	var outbounds []notify.Outbound
	for _, p := range projects {
		records := perProject[p]
		if len(records) == 0 {
			continue
		}
		for i := range p.Notifications {
			n := &p.Notifications[i]
			if !n.Enabled {
				continue
			}
			rep := report.Build(p, n, period, records)
			if rep == nil {
				summary.ReportsDiscarded++
				if pl.metrics != nil {
					pl.metrics.ReportsDiscarded.Inc()
				}
				continue
			}
			summary.ReportsBuilt++
			if pl.metrics != nil {
				pl.metrics.ReportsBuilt.Inc()
			}
			outbounds = append(outbounds, notify.Outbound{Report: rep, Config: n})
		}
	}

	// Stage 5: dispatch.
	if pl.dispatcher != nil && len(outbounds) > 0 {
		pl.dispatcher.DispatchAll(ctx, outbounds)
	}

	return summary, nil
}

// recoverWindowEvents folds persisted events for the window into this run's
// changed set. A run that appended events but aborted before dispatch leaves
// them orphaned in the store; the next run over the same window picks them up
// here. Events appended by this run are skipped by (identifier, seq).
func (pl *Pipeline) recoverWindowEvents(ctx context.Context, changed []changedRecord, period model.Period) ([]changedRecord, error) {
	stored, err := pl.store.EventsInWindow(ctx, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("loading window events: %w", err)
	}
	if len(stored) == 0 {
		return changed, nil
	}

	byID := make(map[string]int, len(changed))
	seen := make(map[string]map[int64]bool, len(changed))
	for i, cr := range changed {
		byID[cr.record.CVEID] = i
		seqs := make(map[int64]bool, len(cr.events))
		for _, ev := range cr.events {
			seqs[ev.Seq] = true
		}
		seen[cr.record.CVEID] = seqs
	}

	grew := false
	for _, se := range stored {
		if seen[se.CVEID][se.Seq] {
			continue
		}
		data, err := model.DecodeEventData(se.Type, se.Data)
		if err != nil {
			slog.Warn("skipping undecodable stored event",
				"cve", se.CVEID, "seq", se.Seq, "error", err)
			continue
		}
		i, ok := byID[se.CVEID]
		if !ok {
			rec, err := pl.store.GetRecord(ctx, se.CVEID)
			if err != nil {
				return nil, fmt.Errorf("loading record %s: %w", se.CVEID, err)
			}
			if rec == nil {
				continue
			}
			changed = append(changed, changedRecord{record: rec})
			i = len(changed) - 1
			byID[se.CVEID] = i
			seen[se.CVEID] = make(map[int64]bool)
		}
		changed[i].events = append(changed[i].events, model.ChangeEvent{
			CVEID:     se.CVEID,
			Seq:       se.Seq,
			Type:      se.Type,
			Data:      data,
			CreatedAt: se.CreatedAt,
		})
		seen[se.CVEID][se.Seq] = true
		grew = true
	}
	if !grew {
		return changed, nil
	}

	for i := range changed {
		evs := changed[i].events
		sort.Slice(evs, func(a, b int) bool { return evs[a].Seq < evs[b].Seq })
	}
	sort.Slice(changed, func(a, b int) bool {
		return changed[a].record.CVEID < changed[b].record.CVEID
	})
	return changed, nil
}
