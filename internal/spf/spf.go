// Package spf parses SPF TXT records: mechanisms, the all qualifier, the
// DNS-lookup budget, and a categorization of include targets against a static
// provider catalog. It is a reporting parser, not an evaluator — the
// 10-lookup cap is recorded, never enforced.
package spf

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

//go:embed providers.json
var providersJSON []byte

// Mechanism is one parsed SPF term.
type Mechanism struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Mechanism types.
const (
	MechInclude = "include"
	MechIP4     = "ip4"
	MechIP6     = "ip6"
	MechA       = "a"
	MechMX      = "mx"
	MechUnknown = "unknown"
)

// Provider describes one catalog entry matched from an include target.
type Provider struct {
	Domain   string `json:"domain"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Report is the parsed SPF record.
type Report struct {
	Version             string                `json:"version"`
	Mechanisms          []Mechanism           `json:"mechanisms"`
	AllMechanism        string                `json:"all_mechanism"`
	Includes            []string              `json:"includes"`
	LookupCount         int                   `json:"lookup_count"`
	RawRecord           string                `json:"raw_record"`
	ProvidersByCategory map[string][]Provider `json:"providers_by_category"`
}

var allQualifiers = map[string]struct{}{
	"~all": {}, "-all": {}, "?all": {}, "+all": {},
}

// Parse finds the first v=spf1 record among the TXT strings and breaks it
// into mechanisms. No SPF record is an error; callers treat that as "domain
// publishes no SPF".
func Parse(txtRecords []string) (*Report, error) {
	var raw string
	for _, rec := range txtRecords {
		if strings.HasPrefix(rec, "v=spf1") {
			raw = rec
			break
		}
	}
	if raw == "" {
		return nil, fmt.Errorf("No SPF record found")
	}

	report := &Report{
		Version:      "spf1",
		AllMechanism: "~all",
		RawRecord:    raw,
	}

	tokens := strings.Split(raw, " ")
	sawAll := false
	for _, tok := range tokens[1:] {
		if tok == "" {
			continue
		}
		if _, ok := allQualifiers[tok]; ok {
			if !sawAll {
				report.AllMechanism = tok
				sawAll = true
			}
			continue
		}

		switch {
		case strings.HasPrefix(tok, "include:"):
			v := tok[len("include:"):]
			report.Mechanisms = append(report.Mechanisms, Mechanism{Type: MechInclude, Value: v})
			report.Includes = append(report.Includes, v)
		case strings.HasPrefix(tok, "ip4:"):
			report.Mechanisms = append(report.Mechanisms, Mechanism{Type: MechIP4, Value: tok[len("ip4:"):]})
		case strings.HasPrefix(tok, "ip6:"):
			report.Mechanisms = append(report.Mechanisms, Mechanism{Type: MechIP6, Value: tok[len("ip6:"):]})
		case strings.HasPrefix(tok, "a:"):
			report.Mechanisms = append(report.Mechanisms, Mechanism{Type: MechA, Value: tok[len("a:"):]})
		case strings.HasPrefix(tok, "mx:"):
			report.Mechanisms = append(report.Mechanisms, Mechanism{Type: MechMX, Value: tok[len("mx:"):]})
		default:
			report.Mechanisms = append(report.Mechanisms, Mechanism{Type: MechUnknown, Value: tok})
		}
	}

	for _, m := range report.Mechanisms {
		switch m.Type {
		case MechInclude, MechA, MechMX:
			report.LookupCount++
		}
	}

	report.ProvidersByCategory = categorize(report.Includes)
	return report, nil
}

type catalogEntry struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

var (
	catalogOnce sync.Once
	catalog     map[string]catalogEntry
)

func loadCatalog() map[string]catalogEntry {
	catalogOnce.Do(func() {
		catalog = make(map[string]catalogEntry, 256)
		if err := json.Unmarshal(providersJSON, &catalog); err != nil {
			panic(fmt.Sprintf("spf: embedded providers.json: %v", err))
		}
	})
	return catalog
}

// BaseDomain reduces an include target to its last two dot-labels, the key
// shape the catalog uses. A leading underscore label is dropped first.
func BaseDomain(target string) string {
	target = strings.TrimPrefix(target, "_")
	labels := strings.Split(target, ".")
	if len(labels) <= 2 {
		return target
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// categorize groups include targets by the catalog category of their base
// domain. Targets with no catalog entry land under "unknown".
func categorize(includes []string) map[string][]Provider {
	return categorizeWith(loadCatalog(), includes)
}

func categorizeWith(cat map[string]catalogEntry, includes []string) map[string][]Provider {
	out := make(map[string][]Provider)
	for _, inc := range includes {
		base := BaseDomain(inc)
		if e, ok := cat[base]; ok {
			out[e.Category] = append(out[e.Category], Provider{
				Domain:   base,
				Name:     e.Name,
				Category: e.Category,
			})
			continue
		}
		out["unknown"] = append(out["unknown"], Provider{
			Domain:   base,
			Name:     inc,
			Category: "unknown",
		})
	}
	return out
}
