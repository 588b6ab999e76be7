package layout

import (
	"fmt"
	"sort"
	"strings"
)

// PageSize is a page in mm.
type PageSize struct {
	Token string
	W, H  float64
}

func (p PageSize) Landscape() bool { return p.W > p.H }

// Natural page dimensions; orientation is applied by ParsePageSize.
var pageSizes = map[string]PageSize{
	"a3":        {Token: "a3", W: 297, H: 420},
	"a4":        {Token: "a4", W: 210, H: 297},
	"a5":        {Token: "a5", W: 148, H: 210},
	"a6":        {Token: "a6", W: 105, H: 148},
	"letter":    {Token: "letter", W: 215.9, H: 279.4},
	"square-8":  {Token: "square-8", W: 203.2, H: 203.2},
	"square-12": {Token: "square-12", W: 304.8, H: 304.8},
	"postcard":  {Token: "postcard", W: 152.4, H: 101.6},
}

// PageSizeTokens returns the known page-size tokens in sorted order.
func PageSizeTokens() []string {
	tokens := make([]string, 0, len(pageSizes))
	for k := range pageSizes {
		tokens = append(tokens, k)
	}
	sort.Strings(tokens)
	return tokens
}

// ParsePageSize resolves a page-size token and an orientation ("portrait",
// "landscape" or empty for the natural orientation).
func ParsePageSize(token, orientation string) (PageSize, error) {
	p, ok := pageSizes[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return PageSize{}, fmt.Errorf("unknown page size %q (valid: %s)", token, strings.Join(PageSizeTokens(), ", "))
	}
	switch strings.ToLower(orientation) {
	case "":
	case "portrait":
		if p.W > p.H {
			p.W, p.H = p.H, p.W
		}
	case "landscape":
		if p.H > p.W {
			p.W, p.H = p.H, p.W
		}
	default:
		return PageSize{}, fmt.Errorf("unknown orientation %q", orientation)
	}
	return p, nil
}
