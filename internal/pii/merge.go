package pii

import (
	"fmt"
	"sort"
)

// Merge combines detector outputs into one ordered, duplicate-free list.
//
// Findings are concatenated in argument order, assigned fresh ids
// ("pii-0", "pii-1", ...), stably sorted by span start and then collapsed
// on exact duplicates: two findings with the same start and the same value
// are duplicates even if their categories differ, and the first one wins.
// Overlapping findings that are not exact duplicates are kept.
func Merge(groups ...[]Finding) []Finding {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	all := make([]Finding, 0, total)
	for _, g := range groups {
		for _, f := range g {
			f.ID = fmt.Sprintf("pii-%d", len(all))
			all = append(all, f)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Span.Start < all[j].Span.Start
	})

	type key struct {
		start int
		value string
	}
	seen := make(map[key]struct{}, len(all))
	out := make([]Finding, 0, len(all))
	for _, f := range all {
		k := key{start: f.Span.Start, value: f.Value}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	return out
}
