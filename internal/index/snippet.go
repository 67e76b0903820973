package index

import (
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/starford/keep/internal/models"
)

// maxSnippetChars bounds the fragment length in characters.
const maxSnippetChars = 120

// makeSnippet picks the window of text holding the most matches and reports
// the matches as byte ranges relative to the fragment. Without matches the
// leading part of the text is returned.
func makeSnippet(text string, spans [][2]int) models.Snippet {
	snip := models.Snippet{Highlighted: [][2]int{}}
	if text == "" {
		return snip
	}
	spans = normalizeSpans(spans, len(text))

	start, end := 0, len(text)
	switch {
	case utf8.RuneCountInString(text) <= maxSnippetChars:
	case len(spans) == 0:
		end = cutAt(text, 0, 0)
	default:
		start, end = bestWindow(text, spans)
	}

	snip.Fragment = text[start:end]
	for _, s := range spans {
		if s[0] >= start && s[1] <= end {
			snip.Highlighted = append(snip.Highlighted, [2]int{s[0] - start, s[1] - start})
		}
	}
	return snip
}

// normalizeSpans sorts spans, drops ones outside the text and merges
// overlapping ones.
func normalizeSpans(spans [][2]int, n int) [][2]int {
	valid := spans[:0:0]
	for _, s := range spans {
		if s[0] >= 0 && s[0] < s[1] && s[1] <= n {
			valid = append(valid, s)
		}
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i][0] < valid[j][0] })

	var out [][2]int
	for _, s := range valid {
		if last := len(out) - 1; last >= 0 && s[0] < out[last][1] {
			if s[1] > out[last][1] {
				out[last][1] = s[1]
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// bestWindow returns the byte span of the window that starts at a match,
// fits in maxSnippetChars and covers the most matches. The earliest window
// wins ties.
func bestWindow(text string, spans [][2]int) (int, int) {
	runeAt := make([][2]int, len(spans))
	for i, s := range spans {
		runeAt[i] = [2]int{utf8.RuneCountInString(text[:s[0]]), utf8.RuneCountInString(text[:s[1]])}
	}

	best, bestLast, bestCount := 0, 0, -1
	for a := range spans {
		count, last := 0, a
		for j := a; j < len(spans); j++ {
			if runeAt[j][1]-runeAt[a][0] > maxSnippetChars {
				break
			}
			last = j
			count++
		}
		if count > bestCount {
			best, bestLast, bestCount = a, last, count
		}
	}
	start := spans[best][0]
	return start, cutAt(text, start, spans[bestLast][1])
}

// cutAt returns the end of a fragment starting at byte start: at most
// maxSnippetChars characters, ending on a word boundary when one exists
// after minEnd.
func cutAt(text string, start, minEnd int) int {
	n, limit := 0, len(text)
	for i := range text[start:] {
		if n == maxSnippetChars {
			limit = start + i
			break
		}
		n++
	}
	if limit == len(text) {
		return limit
	}
	for i := limit; i > minEnd && i > start; {
		r, size := utf8.DecodeLastRuneInString(text[:i])
		if unicode.IsSpace(r) && i-size > start {
			return i - size
		}
		i -= size
	}
	if minEnd > start {
		return minEnd
	}
	return limit
}
