package extractor

import (
	"sort"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/xhad/normativa/internal/models"
)

// Horizontal gaps, in multiples of the glyph font size, that separate words
// and table cells inside a text row.
const (
	defaultWordGap = 0.15
	defaultCellGap = 1.5
)

// RenderTable renders a table as one line per data row, each line holding
// "header: cell" pairs joined by "; ". Cells beyond the header width are
// dropped. The header row itself is never emitted.
func RenderTable(table models.Table) string {
	if len(table) == 0 {
		return ""
	}
	header := table[0]
	lines := make([]string, 0, len(table)-1)
	for _, row := range table[1:] {
		pairs := make([]string, 0, len(row))
		for i, cell := range row {
			if i >= len(header) {
				break
			}
			pairs = append(pairs, header[i]+": "+cell)
		}
		lines = append(lines, strings.Join(pairs, "; "))
	}
	return strings.Join(lines, "\n")
}

// qualifies reports whether a table has at least one data row.
func qualifies(table models.Table) bool {
	return len(table) > 1
}

// DetectTables groups consecutive rows that share the same cell count (two
// or more) into tables. Single-row runs are returned as header-only tables.
func DetectTables(rows [][]string) []models.Table {
	var tables []models.Table
	var current models.Table

	flush := func() {
		if len(current) > 0 {
			tables = append(tables, current)
		}
		current = nil
	}

	for _, cells := range rows {
		if len(cells) >= 2 && (len(current) == 0 || len(cells) == len(current[0])) {
			current = append(current, cells)
			continue
		}
		flush()
		if len(cells) >= 2 {
			current = models.Table{cells}
		}
	}
	flush()

	return tables
}

// rowCells splits one positioned text row into cells using the horizontal
// gap between consecutive glyphs.
func rowCells(texts pdflib.TextHorizontal, wordGap, cellGap float64) []string {
	if len(texts) == 0 {
		return nil
	}
	sorted := make([]pdflib.Text, len(texts))
	copy(sorted, texts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var cells []string
	var cell strings.Builder
	flush := func() {
		if text := strings.Join(strings.Fields(cell.String()), " "); text != "" {
			cells = append(cells, text)
		}
		cell.Reset()
	}

	var end float64
	for i, t := range sorted {
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		if i > 0 {
			gap := t.X - end
			switch {
			case gap > cellGap*size:
				flush()
			case gap > wordGap*size:
				cell.WriteByte(' ')
			}
		}
		cell.WriteString(t.S)
		end = t.X + t.W
	}
	flush()

	return cells
}
