package pii

import "unicode/utf8"

// RuneIndex converts byte offsets of a string into rune offsets.
// Regex engines report byte positions; findings are expressed in runes.
type RuneIndex struct {
	ascii bool
	// runeAt[b] is the rune offset of byte b; len(text)+1 entries.
	runeAt []int
	// byteAt[r] is the byte offset of rune r; runeLen+1 entries.
	byteAt []int
}

// IndexRunes builds a RuneIndex for text.
func IndexRunes(text string) *RuneIndex {
	n := utf8.RuneCountInString(text)
	if n == len(text) {
		return &RuneIndex{ascii: true, runeAt: nil, byteAt: nil}
	}
	ri := &RuneIndex{
		runeAt: make([]int, len(text)+1),
		byteAt: make([]int, 0, n+1),
	}
	for b := range ri.runeAt {
		ri.runeAt[b] = -1
	}
	r := 0
	for b := range text {
		ri.byteAt = append(ri.byteAt, b)
		ri.runeAt[b] = r
		r++
	}
	ri.byteAt = append(ri.byteAt, len(text))
	ri.runeAt[len(text)] = r
	// Continuation bytes map to the rune that contains them.
	for b := 1; b < len(text); b++ {
		if ri.runeAt[b] < 0 {
			ri.runeAt[b] = ri.runeAt[b-1]
		}
	}
	return ri
}

// Rune returns the rune offset for byte offset b.
func (ri *RuneIndex) Rune(b int) int {
	if ri.ascii {
		return b
	}
	return ri.runeAt[b]
}

// Byte returns the byte offset for rune offset r.
func (ri *RuneIndex) Byte(r int) int {
	if ri.ascii {
		return r
	}
	return ri.byteAt[r]
}

// SpanOf converts a byte range into a rune Span.
func (ri *RuneIndex) SpanOf(startByte, endByte int) Span {
	return Span{Start: ri.Rune(startByte), End: ri.Rune(endByte)}
}

// RuneLen returns the length of s in runes.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
