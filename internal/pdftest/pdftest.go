// Package pdftest writes small text-layer PDFs for tests. Every page uses a
// single WinAnsi Helvetica font and every text run is placed with an absolute
// text matrix, which is what the extractor's row layout relies on.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Text is one run of text whose baseline starts at X, Y in points.
type Text struct {
	X, Y float64
	S    string
}

type Page []Text

const (
	left    = 72
	top     = 720
	leading = 14
)

// Lines lays out one text run per line from the top left margin down.
func Lines(lines ...string) Page {
	page := make(Page, 0, len(lines))
	for i, line := range lines {
		page = append(page, Text{X: left, Y: float64(top - i*leading), S: line})
	}
	return page
}

// Grid lays out rows of cells, each column colWidth points wide.
func Grid(colWidth float64, rows ...[]string) Page {
	var page Page
	for i, row := range rows {
		for j, cell := range row {
			page = append(page, Text{X: left + float64(j)*colWidth, Y: float64(top - i*leading), S: cell})
		}
	}
	return page
}

// Build returns a complete PDF document holding pages in order.
func Build(pages ...Page) []byte {
	var buf bytes.Buffer
	var offsets []int

	object := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	object("<< /Type /Catalog /Pages 2 0 R >>")
	object(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	object("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, page := range pages {
		content := contentStream(page)
		object(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		object(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	return buf.Bytes()
}

// WriteFile builds the document into dir/name and returns its path.
func WriteFile(t testing.TB, dir, name string, pages ...Page) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, Build(pages...), 0o644))
	return path
}

// contentStream puts each run in its own text object so the plain text layer
// keeps runs on separate lines.
func contentStream(page Page) string {
	var b strings.Builder
	for _, text := range page {
		fmt.Fprintf(&b, "BT\n/F1 10 Tf\n1 0 0 1 %g %g Tm\n(%s) Tj\nET\n", text.X, text.Y, escape(text.S))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// escape encodes s as a WinAnsi literal string body. Runes outside Latin-1
// become '?'.
func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '(' || r == ')' || r == '\\':
			b.WriteByte('\\')
			b.WriteByte(byte(r))
		case r < 0x80:
			b.WriteByte(byte(r))
		case r < 0x100:
			fmt.Fprintf(&b, "\\%03o", r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}
