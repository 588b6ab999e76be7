package textfit

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiPunct maps typographic punctuation to plain ASCII. Narrow glyph
// metrics and the document serializer both assume ASCII here.
var asciiPunct = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`,
	"«", `"`, "»", `"`,
	"–", "-", "—", "-", "―", "-", "‒", "-", "−", "-", "‐", "-", "‑", "-",
	"…", "...",
	"•", "*", "‣", "*", "●", "*", "·", "*", "⁃", "*",
)

// stripControl drops non-printable runes. Whitespace is kept so it can be
// collapsed afterwards.
var stripControl = runes.Remove(runes.Predicate(func(r rune) bool {
	return !unicode.IsPrint(r) && !unicode.IsSpace(r)
}))

// Normalize prepares free text for fitting: typographic punctuation becomes
// ASCII, control characters are removed and every run of whitespace
// (newlines and tabs included) becomes a single space.
func Normalize(s string) string {
	s = asciiPunct.Replace(s)
	out, _, err := transform.String(transform.Chain(norm.NFC, stripControl), s)
	if err == nil {
		s = out
	}
	return strings.Join(strings.Fields(s), " ")
}
