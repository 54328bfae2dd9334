// Package catalog loads course catalogs and derives the canonical lesson sequence.
package catalog

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalID trims surrounding whitespace and converts id to Unicode NFC, so the
// same identifier coming from a YAML file and from a JSON payload compares equal.
func CanonicalID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// Normalize flattens modules into the canonical lesson sequence: modules by Order,
// then lessons within each module by Order. Sorting is stable, so equal Order values
// keep their input order. The input is not modified.
func Normalize(modules []Module) []string {
	sorted := slices.Clone(modules)
	slices.SortStableFunc(sorted, func(a, b Module) int {
		return cmp.Compare(a.Order, b.Order)
	})

	var seq []string
	for _, m := range sorted {
		lessons := slices.Clone(m.Lessons)
		slices.SortStableFunc(lessons, func(a, b Lesson) int {
			return cmp.Compare(a.Order, b.Order)
		})
		for _, l := range lessons {
			seq = append(seq, CanonicalID(l.ID))
		}
	}
	if seq == nil {
		return []string{}
	}
	return seq
}
