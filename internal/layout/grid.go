package layout

import "math"

// MaxGridPages caps how many pages a grid layout may produce.
const MaxGridPages = 10

// GridConfig describes a uniform grid of photo cells on a page.
type GridConfig struct {
	Columns  int     // cells per row
	Rows     int     // rows per page
	GapMM    float64 // gutter between cells, both directions
	MarginMM float64 // outer page margin
	FooterMM float64 // zone reserved at the bottom for captions and folio
}

// DefaultGridConfig returns a 2×3 grid with print-safe margins.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		Columns:  2,
		Rows:     3,
		GapMM:    4,
		MarginMM: 12,
		FooterMM: 8,
	}
}

// PerPage returns the number of cells per page.
func (c GridConfig) PerPage() int {
	return max(1, c.Columns) * max(1, c.Rows)
}

// ContentWidth returns the usable horizontal space.
func (c GridConfig) ContentWidth(page PageSize) float64 {
	return page.W - 2*c.MarginMM
}

// ContentHeight returns the usable vertical space above the footer zone.
func (c GridConfig) ContentHeight(page PageSize) float64 {
	return page.H - 2*c.MarginMM - c.FooterMM
}

// ColumnWidth returns the width of a single cell.
func (c GridConfig) ColumnWidth(page PageSize) float64 {
	cols := max(1, c.Columns)
	return (c.ContentWidth(page) - float64(cols-1)*c.GapMM) / float64(cols)
}

// RowHeight returns the height of a single cell.
func (c GridConfig) RowHeight(page PageSize) float64 {
	rows := max(1, c.Rows)
	return (c.ContentHeight(page) - float64(rows-1)*c.GapMM) / float64(rows)
}

// ColSpanWidth returns the width of n adjacent columns including internal gutters.
func (c GridConfig) ColSpanWidth(page PageSize, n int) float64 {
	return float64(n)*c.ColumnWidth(page) + float64(n-1)*c.GapMM
}

// ColOffset returns the X offset of a 0-indexed column from the left page edge.
func (c GridConfig) ColOffset(page PageSize, col int) float64 {
	return c.MarginMM + float64(col)*(c.ColumnWidth(page)+c.GapMM)
}

// RowOffset returns the Y offset of a 0-indexed row from the top page edge.
func (c GridConfig) RowOffset(page PageSize, row int) float64 {
	return c.MarginMM + float64(row)*(c.RowHeight(page)+c.GapMM)
}

// Cells returns the cell rectangles of one page in row-major order
// (layout space, mm).
func (c GridConfig) Cells(page PageSize) []Box {
	cols, rows := max(1, c.Columns), max(1, c.Rows)
	w, h := c.ColumnWidth(page), c.RowHeight(page)
	cells := make([]Box, 0, cols*rows)
	for r := range rows {
		for col := range cols {
			cells = append(cells, Box{X: c.ColOffset(page, col), Y: c.RowOffset(page, r), W: w, H: h})
		}
	}
	return cells
}

// FooterBox returns the footer zone of a page.
func (c GridConfig) FooterBox(page PageSize) Box {
	return Box{X: c.MarginMM, Y: page.H - c.MarginMM - c.FooterMM, W: c.ContentWidth(page), H: c.FooterMM}
}

// PageCount returns ceil(n/perPage) capped at MaxGridPages.
func PageCount(n, perPage int) int {
	if n <= 0 || perPage <= 0 {
		return 0
	}
	return min(MaxGridPages, int(math.Ceil(float64(n)/float64(perPage))))
}
