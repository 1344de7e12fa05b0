package model

import (
	"fmt"
	"sort"
	"time"
)

// Field names used for provenance tracking on a canonical record.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldScore       = "score"
	FieldVendors     = "vendors"
	FieldCPEs        = "cpes"
	FieldWeaknesses  = "weaknesses"
	FieldReferences  = "references"
)

// RawRecord is one source's view of a CVE for the current run. Nil fields
// mean the source did not supply a value this run.
type RawRecord struct {
	Source      string    `json:"source"`
	CVEID       string    `json:"cve_id"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Score       *float64  `json:"cvss31,omitempty"`
	Vendors     []string  `json:"vendors,omitempty"`
	CPEs        []string  `json:"cpes,omitempty"`
	Weaknesses  []string  `json:"weaknesses,omitempty"`
	References  []string  `json:"references,omitempty"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// Validate rejects raw records that cannot be merged at all. Invalid records
// are skipped per-record and never abort a batch.
func (r *RawRecord) Validate() error {
	if r.CVEID == "" {
		return fmt.Errorf("raw record from source %q is missing a CVE identifier", r.Source)
	}
	if r.Source == "" {
		return fmt.Errorf("raw record %s is missing a source name", r.CVEID)
	}
	if r.Score != nil && (*r.Score < 0 || *r.Score > 10) {
		return fmt.Errorf("raw record %s from %q has out-of-range score %v", r.CVEID, r.Source, *r.Score)
	}
	return nil
}

// CanonicalRecord is the single merged, authoritative representation of a CVE.
// There is at most one per identifier; it is mutated by merges and never deleted.
type CanonicalRecord struct {
	CVEID       string            `json:"cve_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Score       *float64          `json:"cvss31"`
	Vendors     []string          `json:"vendors"`
	CPEs        []string          `json:"cpes"`
	Weaknesses  []string          `json:"weaknesses"`
	References  []string          `json:"references"`
	Provenance  map[string]string `json:"provenance"`
	Seq         int64             `json:"seq"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Clone returns a deep copy, so merge can stay a pure function over its inputs.
func (c *CanonicalRecord) Clone() *CanonicalRecord {
	if c == nil {
		return nil
	}
	out := *c
	out.Vendors = append([]string(nil), c.Vendors...)
	out.CPEs = append([]string(nil), c.CPEs...)
	out.Weaknesses = append([]string(nil), c.Weaknesses...)
	out.References = append([]string(nil), c.References...)
	out.Provenance = make(map[string]string, len(c.Provenance))
	for k, v := range c.Provenance {
		out.Provenance[k] = v
	}
	return &out
}

// Tokens returns the record's subscription-matchable token set: its vendor
// tokens plus its vendor$PRODUCT$product tokens, sorted and deduplicated.
func (c *CanonicalRecord) Tokens() []string {
	seen := make(map[string]struct{}, len(c.Vendors))
	var out []string
	for _, t := range c.Vendors {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
