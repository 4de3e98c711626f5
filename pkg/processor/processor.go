package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xhad/normativa/internal/models"
)

type ProcessorConfig struct {
	// Fragments whose trimmed length in characters does not exceed this
	// value are discarded.
	MinChunkLength int
	Separator      string
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.MinChunkLength == 0 {
		config.MinChunkLength = 100
	}
	if config.Separator == "" {
		config.Separator = "\n\n"
	}

	return Processor{
		config: config,
	}
}

// Process splits the extracted text of one document into chunks. Chunk ids
// are "{source}_{index}" where index counts surviving fragments, so an
// unchanged document always yields the same ids.
func (p *Processor) Process(source, text string) []models.Chunk {
	var chunks []models.Chunk

	for _, fragment := range strings.Split(sanitizeUTF8(text), p.config.Separator) {
		fragment = strings.TrimSpace(fragment)
		if utf8.RuneCountInString(fragment) <= p.config.MinChunkLength {
			continue
		}
		index := len(chunks)
		chunks = append(chunks, models.Chunk{
			ID:     ChunkID(source, index),
			Source: source,
			Index:  index,
			Text:   fragment,
		})
	}

	return chunks
}

// Entries converts chunks into collection entries tagged with their source.
func Entries(chunks []models.Chunk) []models.Entry {
	entries := make([]models.Entry, 0, len(chunks))
	for _, c := range chunks {
		entries = append(entries, models.Entry{
			ID:       c.ID,
			Text:     c.Text,
			Metadata: map[string]string{models.SourceKey: c.Source},
		})
	}
	return entries
}

func ChunkID(source string, index int) string {
	return fmt.Sprintf("%s_%d", source, index)
}

// sanitizeUTF8 drops invalid byte sequences, which Postgres rejects.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
