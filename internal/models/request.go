package models

// Defaults reported when no "[tag] title" header line is found.
const (
	DefaultOrigin = "Unknown"
	DefaultTitle  = "No title detected"
)

// RequestRecord is the structured output of OCR normalization and the
// hand-off format to the answering pipeline.
type RequestRecord struct {
	Origen  string `json:"origen"`
	Titulo  string `json:"titulo"`
	Mensaje string `json:"mensaje"`
}

// IndexReport summarizes one indexing run.
type IndexReport struct {
	Collection string
	Documents  int
	Chunks     int
	Skipped    []DocumentFailure
}

// DocumentFailure records a document skipped during indexing.
type DocumentFailure struct {
	Document string
	Reason   string
}
