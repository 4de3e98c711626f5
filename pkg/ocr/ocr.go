// Package ocr turns an uploaded request document (scan, photo or PDF) into
// raw recognized text.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/xhad/normativa/pkg/faults"
)

// Engine recognizes the lines of text in one document, top to bottom.
type Engine interface {
	RecognizeLines(ctx context.Context, content []byte, mimeType string) ([]string, error)
}

// Extract runs engine over document and joins the recognized lines with
// newlines. document is either a filesystem path (string) or the file
// content ([]byte); anything else is rejected before the engine is called.
func Extract(ctx context.Context, engine Engine, document any) (string, error) {
	var content []byte
	switch doc := document.(type) {
	case string:
		if doc == "" {
			return "", &faults.ValidationError{Field: "document", Message: "empty path"}
		}
		b, err := os.ReadFile(doc)
		if err != nil {
			return "", fmt.Errorf("reading document: %w", err)
		}
		content = b
	case []byte:
		content = doc
	default:
		return "", &faults.ValidationError{
			Field:   "document",
			Message: fmt.Sprintf("expected a file path or file content, got %T", document),
		}
	}

	if len(content) == 0 {
		return "", &faults.ValidationError{Field: "document", Message: "document is empty"}
	}

	lines, err := engine.RecognizeLines(ctx, content, DetectMIME(content))
	if err != nil {
		var ve *faults.ValidationError
		var ee *faults.ExtractionError
		if errors.As(err, &ve) || errors.As(err, &ee) {
			return "", err
		}
		return "", faults.Service("ocr", "recognize", err)
	}
	return strings.Join(lines, "\n"), nil
}

// DetectMIME sniffs the media type of content, without parameters.
func DetectMIME(content []byte) string {
	mime := http.DetectContentType(content)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.TrimSpace(mime)
}
