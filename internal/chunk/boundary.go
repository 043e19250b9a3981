package chunk

import "unicode"

// Boundary returns where a chunk that starts at start should end, given the
// hard limit (start+size, clamped to len(text)).
//
// At the end of the text the limit is returned unchanged. Otherwise the cut
// goes just after the nearest whitespace found within lookback runes before
// limit, provided the cut stays beyond floor; failing that the text is cut
// hard at limit. Callers pass floor = start+overlap so every chunk advances.
func Boundary(text []rune, start, limit, lookback, floor int) int {
	if limit >= len(text) {
		return len(text)
	}

	lowest := limit - lookback
	if lowest <= floor {
		lowest = floor + 1
	}
	if lowest <= start {
		lowest = start + 1
	}

	for cut := limit; cut >= lowest; cut-- {
		if unicode.IsSpace(text[cut-1]) {
			return cut
		}
	}
	return limit
}
