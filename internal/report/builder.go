// Package report aggregates matched changes into per-notification reports.
package report

import (
	"fmt"
	"sort"

	"cvewatch/internal/model"
)

// MatchedRecord is one changed record that matched a project's subscriptions,
// with that project's view of the events.
type MatchedRecord struct {
	Record        *model.CanonicalRecord
	MatchedTokens []string
	Events        []model.ChangeEvent
}

// Build applies the notification's filters to the project's matched records
// and assembles a report for the run window. It returns nil when nothing
// survives: an empty report is never dispatched.
func Build(p *model.Project, n *model.NotificationConfig, period model.Period, records []MatchedRecord) *model.Report {
	var changes []model.ReportChange
	var matchedTokens []string

	for _, mr := range records {
		if !passesScoreFilter(n, mr.Record.Score) {
			continue
		}
		var kept []model.ChangeEvent
		for _, ev := range mr.Events {
			if n.WantsEvent(ev.Type) {
				kept = append(kept, ev)
			}
		}
		if len(kept) == 0 {
			continue
		}
		changes = append(changes, model.ReportChange{
			CVE: model.ReportCVE{
				CVEID:         mr.Record.CVEID,
				Description:   mr.Record.Description,
				CVSS31:        mr.Record.Score,
				Subscriptions: model.NewSubscriptionSet(mr.MatchedTokens),
			},
			Events: kept,
		})
		matchedTokens = append(matchedTokens, mr.MatchedTokens...)
	}

	if len(changes) == 0 {
		return nil
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].CVE.CVEID < changes[j].CVE.CVEID
	})

	matched := model.NewSubscriptionSet(matchedTokens)
	return &model.Report{
		Organization:         p.Organization,
		Project:              p.Name,
		Notification:         n.Name,
		Subscriptions:        model.NewSubscriptionSet(p.Subscriptions),
		MatchedSubscriptions: matched,
		Title:                Title(len(changes), matched.Human),
		Period:               period,
		Changes:              changes,
	}
}

// passesScoreFilter drops the record entirely when its current score is below
// the threshold. A null score never passes a configured threshold; with no
// threshold, null scores pass.
func passesScoreFilter(n *model.NotificationConfig, score *float64) bool {
	threshold := n.ScoreThreshold()
	if threshold == nil {
		return true
	}
	return score != nil && *score >= *threshold
}

// Title renders the human summary, e.g. "1 change on Apache" or
// "3 changes on Linux, Openssl". Names are already deduplicated and in stable
// alphabetical order by NewSubscriptionSet.
func Title(count int, humanNames []string) string {
	noun := "changes"
	if count == 1 {
		noun = "change"
	}
	names := ""
	for i, name := range humanNames {
		if i > 0 {
			names += ", "
		}
		names += name
	}
	return fmt.Sprintf("%d %s on %s", count, noun, names)
}
