// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategy

import "sort"

// DefaultThreshold is the minimum similarity for a name correction.
const DefaultThreshold = 0.75

const (
	prefixLimit = 4
	prefixScale = 0.1
)

// Similarity scores how alike two identifiers are, in [0,1].
//
// Description:
//
//	The base score is 1 - levenshtein(a, b) / max(len(a), len(b)) over
//	runes. Identifiers that share a prefix get a boost toward 1 of
//	l * 0.1 * (1 - base), where l is the common prefix length capped at 4.
//	Identical strings score 1; a comparison with an empty string scores 0.
//
// Examples:
//
//	Similarity("fetchUsr", "fetchUser") // ~0.933
//	Similarity("count", "cnt")          // 0.6 + 0.1*0.4 = 0.64
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	longest := max(len(ra), len(rb))
	base := 1 - float64(levenshtein(ra, rb))/float64(longest)

	prefix := 0
	for prefix < prefixLimit && prefix < len(ra) && prefix < len(rb) && ra[prefix] == rb[prefix] {
		prefix++
	}
	return base + float64(prefix)*prefixScale*(1-base)
}

// levenshtein returns the edit distance between a and b using two rows.
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Match is a scored name.
type Match struct {
	Name  string
	Score float64
}

// Closest returns the names scoring at least threshold against target,
// best first. target itself is never returned. Ties are broken by name.
func Closest(target string, names []string, threshold float64) []Match {
	seen := make(map[string]bool, len(names))
	var out []Match
	for _, n := range names {
		if n == target || seen[n] {
			continue
		}
		seen[n] = true
		if s := Similarity(target, n); s >= threshold {
			out = append(out, Match{Name: n, Score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}
