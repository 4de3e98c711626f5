package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xhad/normativa/internal/models"
)

// SaveRecord writes record as indented UTF-8 JSON. Non-ASCII characters and
// HTML-significant characters are written as is.
func SaveRecord(w io.Writer, record models.RequestRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return nil
}

// LoadRecord reads a record written by SaveRecord. Unknown keys are
// rejected.
func LoadRecord(r io.Reader) (models.RequestRecord, error) {
	var record models.RequestRecord
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&record); err != nil {
		return models.RequestRecord{}, fmt.Errorf("decoding record: %w", err)
	}
	return record, nil
}

// RecordFileName is the input's base name with a .json extension.
func RecordFileName(input string) string {
	return baseName(input) + ".json"
}

// AnswerFileName is the input's base name with a _respuesta.txt suffix.
func AnswerFileName(input string) string {
	return baseName(input) + "_respuesta.txt"
}

func baseName(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WriteRecordFile saves record under dir, named after input, and returns the
// path written.
func WriteRecordFile(dir, input string, record models.RequestRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(dir, RecordFileName(input))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating record file: %w", err)
	}
	if err := SaveRecord(f, record); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing record file: %w", err)
	}
	return path, nil
}

func ReadRecordFile(path string) (models.RequestRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.RequestRecord{}, fmt.Errorf("opening record file: %w", err)
	}
	defer f.Close()
	return LoadRecord(f)
}

// WriteAnswerFile saves the answer text under dir, named after input.
func WriteAnswerFile(dir, input string, answer models.Answer) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(dir, AnswerFileName(input))
	if err := os.WriteFile(path, []byte(answer.Text+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("writing answer file: %w", err)
	}
	return path, nil
}
