// Copyright 2024-2026 Aiku AI

package mention

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// Transform produces the replacement for one annotated span. matched is the
// span's current text. Returning matched unchanged leaves the span as is.
type Transform func(a Annotation, matched string) string

// Rewrite replaces every annotated span of text with the output of
// transform. Annotations are applied in ascending order of their original
// Start (ties keep their input order), and each later span is shifted by
// the length change of the replacements before it. transform is called
// exactly once per annotation, sequentially.
//
// An annotation whose shifted span does not fit the current text fails the
// whole call with ErrOutOfRange.
func Rewrite(text string, annotations []Annotation, transform Transform) (string, error) {
	if len(annotations) == 0 {
		return text, nil
	}

	sorted := slices.Clone(annotations)
	slices.SortStableFunc(sorted, func(a, b Annotation) int {
		return cmp.Compare(a.Start, b.Start)
	})

	if disjoint(sorted) {
		return rewriteDisjoint(text, sorted, transform)
	}
	return rewriteSequential(text, sorted, transform)
}

// disjoint reports whether sorted spans never overlap. Only then is a single
// pass over the original text equivalent to splicing one span at a time.
func disjoint(sorted []Annotation) bool {
	prevEnd := 0
	for _, a := range sorted {
		if a.Start < prevEnd || a.Length < 0 {
			return false
		}
		prevEnd = a.End()
	}
	return true
}

func rewriteDisjoint(text string, sorted []Annotation, transform Transform) (string, error) {
	total := utf8.RuneCountInString(text)

	var b strings.Builder
	b.Grow(len(text))

	bytePos, runePos, offset := 0, 0, 0
	for _, a := range sorted {
		if a.End() > total {
			return "", outOfRange(a, offset, total+offset)
		}
		startByte := advance(text, bytePos, a.Start-runePos)
		endByte := advance(text, startByte, a.Length)

		replacement := transform(a, text[startByte:endByte])

		b.WriteString(text[bytePos:startByte])
		b.WriteString(replacement)
		offset += utf8.RuneCountInString(replacement) - a.Length
		bytePos, runePos = endByte, a.End()
	}
	b.WriteString(text[bytePos:])
	return b.String(), nil
}

// rewriteSequential splices one span at a time into the mutated text. It
// handles caller-built annotations that overlap.
func rewriteSequential(text string, sorted []Annotation, transform Transform) (string, error) {
	length := utf8.RuneCountInString(text)
	offset := 0
	for _, a := range sorted {
		adjusted := a.Start + offset
		if adjusted < 0 || a.Length < 0 || adjusted+a.Length > length {
			return "", outOfRange(a, offset, length)
		}
		startByte := advance(text, 0, adjusted)
		endByte := advance(text, startByte, a.Length)

		replacement := transform(a, text[startByte:endByte])
		text = text[:startByte] + replacement + text[endByte:]

		delta := utf8.RuneCountInString(replacement) - a.Length
		offset += delta
		length += delta
	}
	return text, nil
}

// advance moves the byte index from forward by n code points. Callers
// guarantee the text holds at least n more code points; invalid bytes count
// as one code point each, matching utf8.RuneCountInString.
func advance(s string, from, n int) int {
	for ; n > 0; n-- {
		_, size := utf8.DecodeRuneInString(s[from:])
		from += size
	}
	return from
}

func outOfRange(a Annotation, offset, length int) error {
	start := a.Start + offset
	return fmt.Errorf("%w: span [%d, %d) of reference %d exceeds text length %d",
		ErrOutOfRange, start, start+a.Length, a.ReferenceID, length)
}
