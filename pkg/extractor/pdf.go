package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/xhad/normativa/internal/models"
)

func readPages(ctx context.Context, path string, wordGap, cellGap float64, log *slog.Logger) (pages []models.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	pages = make([]models.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Debug("page text unavailable", "page", i, "error", err)
			text = ""
		}

		var tables []models.Table
		rows, err := page.GetTextByRow()
		if err != nil {
			log.Debug("page layout unavailable", "page", i, "error", err)
		} else {
			tables = DetectTables(layoutRows(rows, wordGap, cellGap))
		}

		pages = append(pages, models.Page{Number: i, Text: text, Tables: tables})
	}

	return pages, nil
}

// layoutRows converts positioned rows, top of the page first, into cells.
func layoutRows(rows pdflib.Rows, wordGap, cellGap float64) [][]string {
	sorted := make(pdflib.Rows, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			sorted = append(sorted, row)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position > sorted[j].Position })

	out := make([][]string, 0, len(sorted))
	for _, row := range sorted {
		if cells := rowCells(row.Content, wordGap, cellGap); len(cells) > 0 {
			out = append(out, cells)
		}
	}
	return out
}

// PlainText returns the text layer of an in-memory PDF, pages separated by a
// newline.
func PlainText(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	var buf strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(pageText)
	}
	return buf.String(), nil
}
