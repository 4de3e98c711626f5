package processor_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/pkg/processor"
)

func TestProcessor_Process(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	long := strings.Repeat("a", 150)
	text := strings.Join([]string{
		"   corto   ",
		long,
		strings.Repeat("b", 100),
		"  " + strings.Repeat("c", 101) + "  ",
	}, "\n\n")

	chunks := p.Process("circular_3_2012.pdf", text)

	require.Len(t, chunks, 2)
	assert.Equal(t, "circular_3_2012.pdf_0", chunks[0].ID)
	assert.Equal(t, long, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "circular_3_2012.pdf_1", chunks[1].ID)
	assert.Equal(t, strings.Repeat("c", 101), chunks[1].Text)
	assert.Equal(t, "circular_3_2012.pdf", chunks[1].Source)
}

func TestProcessor_MinimumLengthCountsCharacters(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	// 100 two-byte characters: above 100 bytes, not above 100 characters.
	chunks := p.Process("doc.pdf", strings.Repeat("ñ", 100))
	assert.Empty(t, chunks)

	chunks = p.Process("doc.pdf", strings.Repeat("ñ", 101))
	assert.Len(t, chunks, 1)
}

func TestProcessor_ParagraphFloor(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})

	assert.Empty(t, p.Process("doc.pdf", strings.Repeat("x", 50)))
	assert.Len(t, p.Process("doc.pdf", strings.Repeat("x", 150)), 1)
}

func TestProcessor_DeterministicIDs(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})
	text := strings.Repeat("z", 120) + "\n\n" + strings.Repeat("y", 130)

	first := p.Process("doc.pdf", text)
	second := p.Process("doc.pdf", text)

	assert.Equal(t, first, second)
}

func TestProcessor_InvalidUTF8(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{MinChunkLength: 5})

	chunks := p.Process("doc.pdf", "válido\xff texto largo")

	require.Len(t, chunks, 1)
	assert.Equal(t, "válido texto largo", chunks[0].Text)
}

func TestEntries(t *testing.T) {
	entries := processor.Entries([]models.Chunk{{ID: "a.pdf_0", Source: "a.pdf", Text: "t"}})

	require.Len(t, entries, 1)
	assert.Equal(t, "a.pdf", entries[0].Metadata[models.SourceKey])
	assert.Equal(t, "a.pdf_0", entries[0].ID)
}
