// Package fuzzy scores how visually and mechanically close a candidate
// domain is to the target: Jaro distance, edit distance, positional
// character diff, and QWERTY keyboard proximity.
package fuzzy

import (
	"math"
	"strings"

	"github.com/benithors/twistscan/internal/domain"
)

// Scores is the full similarity report for one candidate. Jaro is computed on
// the full FQDNs; the remaining metrics on the first dot-label of each name.
type Scores struct {
	JaroWinkler           float64 `json:"jaro_winkler"`
	Levenshtein           int     `json:"levenshtein"`
	LevenshteinNormalized float64 `json:"levenshtein_normalized"`
	CharDiff              int     `json:"char_diff"`
	KeyboardProximity     float64 `json:"keyboard_proximity"`
}

// Score computes all metrics between the target and candidate FQDNs.
func Score(target, candidate string) Scores {
	tl := domain.FirstLabel(target)
	cl := domain.FirstLabel(candidate)

	lev := Levenshtein(tl, cl)
	return Scores{
		JaroWinkler:           Jaro(target, candidate),
		Levenshtein:           lev,
		LevenshteinNormalized: normalizeLevenshtein(lev, len(tl), len(cl)),
		CharDiff:              CharDiff(tl, cl),
		KeyboardProximity:     KeyboardProximity(tl, cl),
	}
}

// Jaro returns the Jaro distance between a and b in [0,1].
func Jaro(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}

	window := la
	if lb > window {
		window = lb
	}
	window = window/2 - 1
	if window < 0 {
		window = 0
	}

	matchA := make([]bool, la)
	matchB := make([]bool, lb)

	matches := 0
	for i := 0; i < la; i++ {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		hi := i + window + 1
		if hi > lb {
			hi = lb
		}
		for j := lo; j < hi; j++ {
			if matchB[j] || a[i] != b[j] {
				continue
			}
			matchA[i] = true
			matchB[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	j := 0
	for i := 0; i < la; i++ {
		if !matchA[i] {
			continue
		}
		for !matchB[j] {
			j++
		}
		if a[i] != b[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(la) + m/float64(lb) + (m-t)/m) / 3
}

// Levenshtein returns the classic edit distance with unit costs.
func Levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

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
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func normalizeLevenshtein(d, la, lb int) float64 {
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(d)/float64(longest)
}

// CharDiff counts positions where the labels differ, padding the shorter one
// with empty cells so every extra character counts as a difference.
func CharDiff(a, b string) int {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	diff := 0
	for i := 0; i < longest; i++ {
		switch {
		case i >= len(a), i >= len(b):
			diff++
		case a[i] != b[i]:
			diff++
		}
	}
	return diff
}

var keyboardRows = []string{"qwertyuiop", "asdfghjkl", "zxcvbnm"}

// keyPos returns the (row, col) of c on a QWERTY layout and whether it is a
// layout key at all.
func keyPos(c byte) (row, col int, ok bool) {
	for r, keys := range keyboardRows {
		if i := strings.IndexByte(keys, c); i >= 0 {
			return r, i, true
		}
	}
	return 0, 0, false
}

// KeyboardProximity scores how likely a is a fat-finger rendition of b.
// Aligned pairs over the common prefix length contribute a distance: 0 when
// equal, 1.0 when either character is off-layout, Euclidean key distance / 5
// otherwise. Length mismatch costs 0.1 per character. The score floors at 0.
func KeyboardProximity(a, b string) float64 {
	common := len(a)
	if len(b) < common {
		common = len(b)
	}

	var total float64
	for i := 0; i < common; i++ {
		if a[i] == b[i] {
			continue
		}
		ra, ca, okA := keyPos(a[i])
		rb, cb, okB := keyPos(b[i])
		if !okA || !okB {
			total += 1.0
			continue
		}
		dr := float64(ra - rb)
		dc := float64(ca - cb)
		total += math.Sqrt(dr*dr+dc*dc) / 5.0
	}

	mean := 0.0
	if common > 0 {
		mean = total / float64(common)
	}

	lengthPenalty := 0.1 * math.Abs(float64(len(a)-len(b)))
	score := 1 - mean - lengthPenalty
	if score < 0 {
		return 0
	}
	return score
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
