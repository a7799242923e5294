// Package completion computes inspection progress from a schema and a set of responses.
package completion

import (
	"sort"

	"checkline/internal/domain"
	"checkline/internal/schema"
)

type CategoryProgress struct {
	Required  int     `json:"required"`
	Satisfied int     `json:"satisfied"`
	Ratio     float64 `json:"ratio"`
}

type Report struct {
	SchemaVersion   string                      `json:"schema_version"`
	Required        int                         `json:"required"`
	Satisfied       int                         `json:"satisfied"`
	Answered        int                         `json:"answered"`
	OverallRatio    float64                     `json:"overall_ratio"`
	PerCategory     map[string]CategoryProgress `json:"per_category"`
	MissingRequired []domain.ItemKey            `json:"missing_required"`
	Orphaned        []domain.ItemKey            `json:"orphaned"`
	Mismatched      []domain.ItemKey            `json:"mismatched"`
}

// Complete reports whether every required item has a type-matching response.
func (r Report) Complete() bool { return r.Satisfied == r.Required }

// Compute is deterministic and side-effect free. Responses for keys the registry does not
// know are reported as orphaned; responses whose value no longer matches the declared type
// are reported as mismatched. Neither counts toward completion.
func Compute(reg *schema.Registry, responses []domain.Response) Report {
	rep := Report{
		SchemaVersion:   reg.Version(),
		Answered:        len(responses),
		PerCategory:     make(map[string]CategoryProgress),
		MissingRequired: []domain.ItemKey{},
		Orphaned:        []domain.ItemKey{},
		Mismatched:      []domain.ItemKey{},
	}

	matched := make(map[domain.ItemKey]bool, len(responses))
	for _, resp := range responses {
		key := resp.Key()
		def, err := reg.Resolve(key.CategoryID, key.ItemID)
		if err != nil {
			rep.Orphaned = append(rep.Orphaned, key)
			continue
		}
		if resp.Value().Type() != def.Type {
			rep.Mismatched = append(rep.Mismatched, key)
			continue
		}
		matched[key] = true
	}

	for _, c := range reg.Categories() {
		var prog CategoryProgress
		for _, it := range c.Items {
			if !it.Required {
				continue
			}
			prog.Required++
			if matched[it.Key()] {
				prog.Satisfied++
			} else {
				rep.MissingRequired = append(rep.MissingRequired, it.Key())
			}
		}
		prog.Ratio = ratio(prog.Satisfied, prog.Required)
		rep.PerCategory[c.ID] = prog
		rep.Required += prog.Required
		rep.Satisfied += prog.Satisfied
	}
	rep.OverallRatio = ratio(rep.Satisfied, rep.Required)

	sortKeys(reg, rep.Mismatched)
	sort.Slice(rep.Orphaned, func(i, j int) bool {
		a, b := rep.Orphaned[i], rep.Orphaned[j]
		if a.CategoryID != b.CategoryID {
			return a.CategoryID < b.CategoryID
		}
		return a.ItemID < b.ItemID
	})
	return rep
}

func ratio(satisfied, required int) float64 {
	if required == 0 {
		return 1
	}
	return float64(satisfied) / float64(required)
}

func sortKeys(reg *schema.Registry, keys []domain.ItemKey) {
	sort.Slice(keys, func(i, j int) bool {
		pi, _ := reg.Position(keys[i])
		pj, _ := reg.Position(keys[j])
		return pi < pj
	})
}
