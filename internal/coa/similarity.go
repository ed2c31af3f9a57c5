package coa

import "strings"

// similarity returns a [0,1] string-similarity score between a free-form
// label and a canonical name. It blends exact/containment checks with a
// token-overlap (Dice) coefficient, which handles the short, word-shaped
// labels that come out of financial statements better than edit distance.
func similarity(label, name string) float64 {
	a := normalize(label)
	b := normalize(name)

	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}

	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.9
	}

	return diceCoefficient(tokenize(a), tokenize(b))
}

// normalize lowercases and strips everything except letters, digits and spaces.
func normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '/', r == '&':
			sb.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(sb.String()), " ")
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(s) {
		if _, stop := stopwords[field]; stop {
			continue
		}
		tokens[field] = true
	}
	return tokens
}

// diceCoefficient computes 2*|A∩B| / (|A|+|B|) over token sets.
func diceCoefficient(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	overlap := 0
	for token := range a {
		if b[token] {
			overlap++
		}
	}

	return 2.0 * float64(overlap) / float64(len(a)+len(b))
}

// stopwords are connective words that carry no signal in line item labels.
var stopwords = map[string]struct{}{
	"and":   {},
	"of":    {},
	"the":   {},
	"total": {},
	"net":   {},
	"other": {},
}
