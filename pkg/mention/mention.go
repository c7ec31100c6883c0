// Copyright 2024-2026 Aiku AI

// Package mention finds Piazza post references in chat text and rewrites
// them in place.
//
// Offsets are counted in Unicode code points, not bytes, so annotations
// line up with what a user sees regardless of the text's encoding.
package mention

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrParseOverflow is returned when a referenced number does not fit in an int.
	ErrParseOverflow = errors.New("reference number overflows int")
	// ErrOutOfRange is returned when an annotation does not fit the text it is applied to.
	ErrOutOfRange = errors.New("annotation out of range")
)

// space is every code point Unicode treats as whitespace. Go's \s is ASCII
// only and \p{Z} leaves out the C0/C1 separators, so both are widened.
const space = `[\s\v\x1c-\x1f\x85\p{Z}]+`

// mentionRe matches a lead-in followed by a run of decimal digits in any
// script. Go's regexp alternation is leftmost-first, and FindAll never
// reuses consumed text, so matches come back disjoint and in order.
var mentionRe = regexp.MustCompile(`(?i)(?:@|post` + space + `|followup` + space + `to` + space + `|piazza` + space + `)(\p{Nd}+)`)

// Annotation locates one mention inside a specific text. All fields are
// code point offsets; NumIndex is relative to Start.
type Annotation struct {
	ReferenceID int
	Start       int
	Length      int
	NumIndex    int
	NumLength   int
}

// End returns the offset just past the annotated span.
func (a Annotation) End() int {
	return a.Start + a.Length
}

// Match returns one annotation per mention in text, ordered by Start.
// Text without mentions yields an empty, non-nil slice.
func Match(text string) ([]Annotation, error) {
	matches := mentionRe.FindAllStringSubmatchIndex(text, -1)
	annotations := make([]Annotation, 0, len(matches))

	// Byte offsets are converted incrementally so the whole scan stays linear.
	bytePos, runePos := 0, 0
	for _, m := range matches {
		start := runePos + utf8.RuneCountInString(text[bytePos:m[0]])
		numStart := start + utf8.RuneCountInString(text[m[0]:m[2]])
		digits := text[m[2]:m[3]]
		numLen := utf8.RuneCountInString(digits)
		end := numStart + numLen

		ref, err := ParseDigits(digits)
		if err != nil {
			return nil, fmt.Errorf("%w at offset %d", err, numStart)
		}

		annotations = append(annotations, Annotation{
			ReferenceID: ref,
			Start:       start,
			Length:      end - start,
			NumIndex:    numStart - start,
			NumLength:   numLen,
		})
		bytePos, runePos = m[1], end
	}
	return annotations, nil
}

// ExtractIDs returns the referenced numbers in text in mention order,
// duplicates included.
func ExtractIDs(text string) ([]int, error) {
	annotations, err := Match(text)
	if err != nil {
		return nil, err
	}
	return ReferenceIDs(annotations), nil
}

// ReferenceIDs projects annotations onto their reference numbers.
func ReferenceIDs(annotations []Annotation) []int {
	ids := make([]int, len(annotations))
	for i, a := range annotations {
		ids[i] = a.ReferenceID
	}
	return ids
}

// ParseDigits parses a run of Unicode decimal digits (category Nd) as a
// base-10 number. Digits from different scripts may be mixed.
func ParseDigits(digits string) (int, error) {
	if digits == "" {
		return 0, fmt.Errorf("empty reference number")
	}
	n := 0
	for _, r := range digits {
		d, ok := digitValue(r)
		if !ok {
			return 0, fmt.Errorf("invalid digit %q in reference %q", r, digits)
		}
		if n > (math.MaxInt-d)/10 {
			return 0, fmt.Errorf("%w: %q", ErrParseOverflow, digits)
		}
		n = n*10 + d
	}
	return n, nil
}

// digitValue returns the value of a decimal digit. Unicode allocates Nd
// characters in contiguous runs made of whole blocks of ten, each starting
// at its zero, so the value is the distance from the run start modulo ten.
func digitValue(r rune) (int, bool) {
	if r >= '0' && r <= '9' {
		return int(r - '0'), true
	}
	if !unicode.IsDigit(r) {
		return 0, false
	}
	start := r
	for unicode.IsDigit(start - 1) {
		start--
	}
	return int(r-start) % 10, true
}
