package models

import "sort"

// Metadata key under which every indexed entry records its source filename.
const SourceKey = "source"

// UnknownSource is reported for matches that carry no source metadata.
const UnknownSource = "Unknown"

// Table is a detected table: the first row is the header.
type Table [][]string

// Page is a single page of a source document. Tables is nil when no table was
// detected on the page.
type Page struct {
	Number int
	Text   string
	Tables []Table
}

// Document is one source PDF, identified by its filename.
type Document struct {
	ID    string
	Path  string
	Pages []Page
}

// Chunk is a retrievable span of a document's flattened text.
type Chunk struct {
	ID     string
	Source string
	Index  int
	Text   string
}

// Entry is the unit inserted into a collection.
type Entry struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Match is a ranked query result.
type Match struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// RetrievalResult is the transient outcome of a query.
type RetrievalResult struct {
	Context string
	Sources []string
}

// NewRetrievalResult builds a result whose Sources is the sorted set of
// distinct values.
func NewRetrievalResult(context string, sources []string) RetrievalResult {
	seen := make(map[string]bool, len(sources))
	unique := make([]string, 0, len(sources))
	for _, s := range sources {
		if !seen[s] {
			seen[s] = true
			unique = append(unique, s)
		}
	}
	sort.Strings(unique)
	return RetrievalResult{Context: context, Sources: unique}
}

// Answer is the generated response together with the resolved source names
// that were offered to the model.
type Answer struct {
	Text    string   `json:"respuesta"`
	Sources []string `json:"fuentes"`
}
