// Package catalog maps source filenames to the human-readable titles of the
// regulations they contain.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/xhad/normativa/pkg/faults"
)

// Catalog is read-only after construction and safe for concurrent use.
type Catalog struct {
	titles map[string]string
}

func New(titles map[string]string) *Catalog {
	c := &Catalog{titles: make(map[string]string, len(titles))}
	for k, v := range titles {
		c.titles[k] = v
	}
	return c
}

// Load reads a flat JSON object of filename to title.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &faults.ConfigurationError{Setting: "corpus.catalog", Err: err}
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, &faults.ConfigurationError{Setting: "corpus.catalog", Err: fmt.Errorf("%s: %w", path, err)}
	}
	return c, nil
}

func Parse(r io.Reader) (*Catalog, error) {
	var titles map[string]string
	if err := json.NewDecoder(r).Decode(&titles); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	return New(titles), nil
}

// Title returns the display title for id, or id itself when unknown.
func (c *Catalog) Title(id string) string {
	if t, ok := c.titles[id]; ok {
		return t
	}
	return id
}

// Resolve sorts ids lexicographically and maps each to its title.
func (c *Catalog) Resolve(ids []string) []string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	names := make([]string, len(sorted))
	for i, id := range sorted {
		names[i] = c.Title(id)
	}
	return names
}

func (c *Catalog) Len() int {
	return len(c.titles)
}
