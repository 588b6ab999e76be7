// Package textfit sizes, wraps and rasterizes text blocks.
//
// Widths are estimated from a small table of character classes instead of
// real glyph metrics so that fitting is fast, deterministic and independent
// of the font that finally draws the text.
package textfit

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Width classes as a fraction of the font size.
const (
	widthNarrow    = 0.30
	widthMedium    = 0.55
	widthWide      = 0.75
	widthExtraWide = 0.90
	widthSpace     = 0.28
)

const (
	// FloorSize is the smallest font size tried, in px.
	FloorSize = 8.0
	// FillRatio is the share of the box height a block may occupy.
	FillRatio = 0.9
	ellipsis  = "..."
)

var (
	narrowRunes    = runeSet("iljtfrI!.,:;'|`()[]{}1\"")
	wideRunes      = runeSet("ABCDEFGHKNOPQRUVXYZ&")
	extraWideRunes = runeSet("mwMW@%")
)

func runeSet(s string) map[rune]bool {
	m := make(map[rune]bool, len(s))
	for _, r := range s {
		m[r] = true
	}
	return m
}

// CharWidth returns the estimated advance of r as a fraction of the font size.
func CharWidth(r rune) float64 {
	switch {
	case r == ' ':
		return widthSpace
	case narrowRunes[r]:
		return widthNarrow
	case extraWideRunes[r]:
		return widthExtraWide
	case wideRunes[r]:
		return widthWide
	}
	return widthMedium
}

// TextWidth estimates the width of s in px at the given font size.
func TextWidth(s string, size float64) float64 {
	var w float64
	for _, r := range s {
		w += CharWidth(r)
	}
	return w * size
}

// Wrap breaks text into lines no wider than maxW. Words longer than a line
// are split across lines.
func Wrap(text string, maxW, size float64) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	var cur string
	for _, word := range words {
		candidate := word
		if cur != "" {
			candidate = cur + " " + word
		}
		if TextWidth(candidate, size) <= maxW {
			cur = candidate
			continue
		}
		if cur != "" {
			lines = append(lines, cur)
			cur = ""
		}
		for TextWidth(word, size) > maxW {
			head, tail := splitAt(word, maxW, size)
			lines = append(lines, head)
			word = tail
		}
		cur = word
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// splitAt cuts the longest prefix of word that fits in maxW. At least one
// rune is always taken so wrapping terminates.
func splitAt(word string, maxW, size float64) (string, string) {
	var w float64
	for i, r := range word {
		w += CharWidth(r) * size
		if w > maxW {
			if i == 0 {
				_, n := utf8.DecodeRuneInString(word)
				return word[:n], word[n:]
			}
			return word[:i], word[i:]
		}
	}
	return word, ""
}

// Block is text fitted into a box. Sizes are in px.
type Block struct {
	Text       string
	BoxW       float64
	BoxH       float64
	FontSize   float64
	LineHeight float64 // multiple of FontSize
	Lines      []string
	Truncated  bool
}

// Height returns the height the wrapped lines occupy.
func (b Block) Height() float64 {
	return float64(len(b.Lines)) * b.FontSize * b.LineHeight
}

// Fit wraps text into a boxW×boxH box. startSize is tried first, then whole
// sizes from floor(startSize) downwards in 1px steps. The first size whose
// block fits in 90% of the box height wins. If even FloorSize does not fit,
// the text is cut to the lines that fit at the floor and the last line ends
// with "...".
func Fit(text string, boxW, boxH, startSize, lineHeight float64) Block {
	text = Normalize(text)
	if lineHeight <= 0 {
		lineHeight = 1.2
	}
	startSize = math.Max(startSize, FloorSize)
	b := Block{Text: text, BoxW: boxW, BoxH: boxH, LineHeight: lineHeight}
	if text == "" {
		b.FontSize = startSize
		return b
	}

	limit := boxH * FillRatio
	fits := func(size float64) bool {
		lines := Wrap(text, boxW, size)
		if float64(len(lines))*size*lineHeight > limit {
			return false
		}
		b.FontSize = size
		b.Lines = lines
		return true
	}
	if fits(startSize) {
		return b
	}
	for size := math.Floor(startSize); size >= FloorSize; size-- {
		if size == startSize {
			continue
		}
		if fits(size) {
			return b
		}
	}

	b.FontSize = FloorSize
	lines := Wrap(text, boxW, FloorSize)
	// A box too short for a single line still shows one.
	maxLines := max(1, int(math.Floor(limit/(FloorSize*lineHeight))))
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		lines[maxLines-1] = withEllipsis(lines[maxLines-1], boxW, FloorSize)
		b.Truncated = true
	}
	b.Lines = lines
	return b
}

// withEllipsis trims the tail of line until line+"..." fits maxW.
func withEllipsis(line string, maxW, size float64) string {
	r := []rune(line)
	for len(r) > 0 && TextWidth(string(r)+ellipsis, size) > maxW {
		r = r[:len(r)-1]
	}
	return strings.TrimRight(string(r), " ") + ellipsis
}

// Profile is a set of defaults for a kind of text block.
type Profile struct {
	StartSize  float64 // px
	LineHeight float64
	Padding    float64 // px kept free on every side of the box
}

var (
	StoryProfile   = Profile{StartSize: 18, LineHeight: 1.3, Padding: 8}
	CaptionProfile = Profile{StartSize: 12, LineHeight: 1.2, Padding: 2}
)

// Fit fits text into the box after removing the profile padding.
func (p Profile) Fit(text string, boxW, boxH float64) Block {
	return Fit(text, math.Max(1, boxW-2*p.Padding), math.Max(1, boxH-2*p.Padding), p.StartSize, p.LineHeight)
}

// WithStart returns a copy of the profile starting at size instead.
func (p Profile) WithStart(size, lineHeight float64) Profile {
	if size > 0 {
		p.StartSize = size
	}
	if lineHeight > 0 {
		p.LineHeight = lineHeight
	}
	return p
}
