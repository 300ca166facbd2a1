package router

import "unicode/utf8"

// minFuzzyRunes is the shortest keyword word that tolerates typos. Shorter words
// are too close to unrelated ones ("spec" and "spot").
const minFuzzyRunes = 6

// editDistance is the Damerau-Levenshtein distance between a and b: insertions,
// deletions, substitutions, and adjacent transpositions each cost one.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	d := make([][]int, len(ra)+1)
	for i := range d {
		d[i] = make([]int, len(rb)+1)
		d[i][0] = i
	}
	for j := range d[0] {
		d[0][j] = j
	}
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				d[i][j] = min(d[i][j], d[i-2][j-2]+cost)
			}
		}
	}
	return d[len(ra)][len(rb)]
}

// closeEnough reports whether the query word w is keyword word k or a typo of it
// within maxDistance edits.
func closeEnough(w, k string, maxDistance int) bool {
	if w == k {
		return true
	}
	if maxDistance <= 0 || utf8.RuneCountInString(k) < minFuzzyRunes {
		return false
	}
	// Length differs by more than the budget: no need to run the table.
	if diff := utf8.RuneCountInString(w) - utf8.RuneCountInString(k); diff > maxDistance || -diff > maxDistance {
		return false
	}
	return editDistance(w, k) <= maxDistance
}
