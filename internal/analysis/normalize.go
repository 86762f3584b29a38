package analysis

import "strings"

// Alphabet is the recognition alphabet: uppercase letters and digits,
// single line, no punctuation.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NormalizePlate normalizes raw OCR text into a plate candidate:
// uppercase, whitespace removed, the visually-ambiguous substitutions
// O→0 and |→1, and everything outside the alphabet dropped.
// Deliberately narrow: no S→5 or B→8 guessing.
func NormalizePlate(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "O", "0")
	s = strings.ReplaceAll(s, "|", "1")

	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if strings.ContainsRune(Alphabet, ch) {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// pickLonger selects the frame candidate from the two binarization
// variants: the longer normalized string wins, on the heuristic that
// more characters were segmented correctly. Ties prefer the
// non-inverted variant a. A heuristic, not a correctness guarantee.
func pickLonger(a, b string) string {
	if len(a) >= len(b) {
		return a
	}
	return b
}
