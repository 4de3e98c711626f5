// Package extractor turns regulatory PDFs into text, preferring structured
// table renderings over raw page text.
package extractor

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/internal/types"
	"github.com/xhad/normativa/pkg/faults"
)

// PageSeparator marks page boundaries in extracted text. The chunker splits
// on the same sequence.
const PageSeparator = "\n\n"

type ExtractorConfig struct {
	WordGap float64
	CellGap float64
	Logger  *slog.Logger
}

type Extractor struct {
	config ExtractorConfig
	log    *slog.Logger
}

var _ types.Extractor = (*Extractor)(nil)

func NewWithConfig(config ExtractorConfig) *Extractor {
	if config.WordGap <= 0 {
		config.WordGap = defaultWordGap
	}
	if config.CellGap <= 0 {
		config.CellGap = defaultCellGap
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{config: config, log: log}
}

// Extract reads the PDF at path and returns its rendered text.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	doc, err := e.ExtractDocument(ctx, path)
	if err != nil {
		return "", err
	}
	return Render(doc.Pages), nil
}

// ExtractDocument reads every page of the PDF at path. Any failure is
// reported as a faults.ExtractionError for that document.
func (e *Extractor) ExtractDocument(ctx context.Context, path string) (models.Document, error) {
	id := filepath.Base(path)
	pages, err := readPages(ctx, path, e.config.WordGap, e.config.CellGap, e.log.With("doc", id))
	if err != nil {
		return models.Document{}, &faults.ExtractionError{Document: id, Err: err}
	}
	return models.Document{ID: id, Path: path, Pages: pages}, nil
}

// Render flattens pages into text segments joined by PageSeparator. A page
// holding at least one table with a data row is rendered as one segment per
// such table; header-only tables on that page are skipped. Any other page is
// rendered as its plain text.
func Render(pages []models.Page) string {
	segments := make([]string, 0, len(pages))
	for _, page := range pages {
		segments = append(segments, renderPage(page)...)
	}
	return strings.Join(segments, PageSeparator)
}

func renderPage(page models.Page) []string {
	var segments []string
	for _, table := range page.Tables {
		if qualifies(table) {
			segments = append(segments, RenderTable(table))
		}
	}
	if len(segments) > 0 {
		return segments
	}
	return []string{page.Text}
}
