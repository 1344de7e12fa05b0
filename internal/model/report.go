package model

import (
	"sort"
	"time"
)

// SubscriptionSet is the wire pairing of raw tokens and their display forms.
type SubscriptionSet struct {
	Raw   []string `json:"raw"`
	Human []string `json:"human"`
}

// NewSubscriptionSet builds the wire pair from raw tokens, sorted and deduplicated.
func NewSubscriptionSet(tokens []string) SubscriptionSet {
	seen := make(map[string]struct{}, len(tokens))
	raw := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		raw = append(raw, t)
	}
	sort.Strings(raw)
	human := make([]string, len(raw))
	for i, t := range raw {
		human[i] = HumanizeToken(t)
	}
	return SubscriptionSet{Raw: raw, Human: human}
}

// Period is the closed run window [start, end).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ReportCVE is the record snapshot embedded in a report change.
type ReportCVE struct {
	CVEID         string          `json:"cve_id"`
	Description   string          `json:"description"`
	CVSS31        *float64        `json:"cvss31"`
	Subscriptions SubscriptionSet `json:"subscriptions"`
}

// ReportChange pairs one record snapshot with the events that survived the
// notification's filters.
type ReportChange struct {
	CVE    ReportCVE     `json:"cve"`
	Events []ChangeEvent `json:"events"`
}

// Report is the aggregated, filtered set of changes for one notification over
// one run window. It is built per (notification, period), dispatched once, and
// then discarded; only the delivery log survives.
type Report struct {
	Organization         string          `json:"organization"`
	Project              string          `json:"project"`
	Notification         string          `json:"notification"`
	Subscriptions        SubscriptionSet `json:"subscriptions"`
	MatchedSubscriptions SubscriptionSet `json:"matched_subscriptions"`
	Title                string          `json:"title"`
	Period               Period          `json:"period"`
	Changes              []ReportChange  `json:"changes"`
}
