// Package subscription indexes project subscriptions by token and matches
// changed records against them.
package subscription

import (
	"sort"

	"cvewatch/internal/model"
)

// Index maps each subscription token to the projects that declared it.
// It is rebuilt between runs and read-only during one, so concurrent matching
// needs no locking. Rebuild is O(total subscriptions), lookups O(1) per token.
type Index struct {
	byToken map[string][]*model.Project
}

// NewIndex builds the index from the current project set. Projects are assumed
// validated (malformed tokens never reach a run).
func NewIndex(projects []*model.Project) *Index {
	ix := &Index{byToken: make(map[string][]*model.Project)}
	for _, p := range projects {
		for _, token := range p.Subscriptions {
			ix.byToken[token] = append(ix.byToken[token], p)
		}
	}
	return ix
}

// Match is one project whose subscriptions intersect a record's token set.
// MatchedTokens is exactly project.subscriptions ∩ record.tokens; a vendor
// and a product subscription of the same vendor stay distinct entries.
type Match struct {
	Project       *model.Project
	MatchedTokens []string
}

// Lookup intersects the record token set with the index and returns one Match
// per project with at least one intersecting subscription.
func (ix *Index) Lookup(tokens []string) []Match {
	matched := make(map[*model.Project][]string)
	var order []*model.Project
	for _, token := range tokens {
		for _, p := range ix.byToken[token] {
			if _, seen := matched[p]; !seen {
				order = append(order, p)
			}
			matched[p] = append(matched[p], token)
		}
	}

	out := make([]Match, 0, len(order))
	for _, p := range order {
		tokens := matched[p]
		sort.Strings(tokens)
		out = append(out, Match{Project: p, MatchedTokens: tokens})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Project, out[j].Project
		if a.Organization != b.Organization {
			return a.Organization < b.Organization
		}
		return a.Name < b.Name
	})
	return out
}
