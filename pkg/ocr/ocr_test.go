package ocr_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/normativa/internal/pdftest"
	"github.com/xhad/normativa/pkg/faults"
	"github.com/xhad/normativa/pkg/llm"
	"github.com/xhad/normativa/pkg/ocr"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeEngine struct {
	lines []string
	err   error
	calls int
	mime  string
}

func (f *fakeEngine) RecognizeLines(_ context.Context, _ []byte, mimeType string) ([]string, error) {
	f.calls++
	f.mime = mimeType
	return f.lines, f.err
}

func TestExtract_Bytes(t *testing.T) {
	engine := &fakeEngine{lines: []string{"[TRANSPARENCIA] Solicitud", "cuerpo"}}

	text, err := ocr.Extract(context.Background(), engine, pngHeader)

	require.NoError(t, err)
	assert.Equal(t, "[TRANSPARENCIA] Solicitud\ncuerpo", text)
	assert.Equal(t, "image/png", engine.mime)
}

func TestExtract_Path(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solicitud.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))
	engine := &fakeEngine{lines: []string{"uno", "dos"}}

	text, err := ocr.Extract(context.Background(), engine, path)

	require.NoError(t, err)
	assert.Equal(t, "uno\ndos", text)
}

func TestExtract_RejectsOtherTypes(t *testing.T) {
	for _, doc := range []any{42, nil, []string{"a"}, struct{}{}} {
		engine := &fakeEngine{}

		_, err := ocr.Extract(context.Background(), engine, doc)

		var ve *faults.ValidationError
		require.ErrorAs(t, err, &ve, "%T", doc)
		assert.Equal(t, 0, engine.calls)
	}
}

func TestExtract_EmptyInput(t *testing.T) {
	engine := &fakeEngine{}
	var ve *faults.ValidationError

	_, err := ocr.Extract(context.Background(), engine, []byte{})
	assert.ErrorAs(t, err, &ve)

	_, err = ocr.Extract(context.Background(), engine, "")
	assert.ErrorAs(t, err, &ve)

	assert.Equal(t, 0, engine.calls)
}

func TestExtract_MissingPath(t *testing.T) {
	_, err := ocr.Extract(context.Background(), &fakeEngine{}, filepath.Join(t.TempDir(), "nope.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtract_EngineFailure(t *testing.T) {
	cause := errors.New("throttled")
	engine := &fakeEngine{err: cause}

	_, err := ocr.Extract(context.Background(), engine, pngHeader)

	var se *faults.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "ocr", se.Service)
	assert.ErrorIs(t, err, cause)
}

type visionModel struct {
	reply    string
	messages []llms.MessageContent
}

func (m *visionModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *visionModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func newVision(model llms.Model) *ocr.VisionEngine {
	return ocr.NewVisionEngine(llm.NewWithModel(model, llm.ChatConfig{Timeout: time.Second}))
}

func TestVisionEngine_Image(t *testing.T) {
	model := &visionModel{reply: "```\n[TRANSPARENCIA] Solicitud de info\nJuan Pérez\n```"}

	text, err := ocr.Extract(context.Background(), newVision(model), pngHeader)

	require.NoError(t, err)
	assert.Equal(t, "[TRANSPARENCIA] Solicitud de info\nJuan Pérez", text)

	require.Len(t, model.messages, 1)
	require.Len(t, model.messages[0].Parts, 2)
	image, ok := model.messages[0].Parts[1].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", image.MIMEType)
	assert.Equal(t, pngHeader, image.Data)
}

func TestVisionEngine_PlainText(t *testing.T) {
	model := &visionModel{}

	text, err := ocr.Extract(context.Background(), newVision(model), []byte("linea uno\r\nlinea dos\n\n"))

	require.NoError(t, err)
	assert.Equal(t, "linea uno\nlinea dos", text)
	assert.Nil(t, model.messages)
}

func TestVisionEngine_PDFTextLayer(t *testing.T) {
	model := &visionModel{}
	content := pdftest.Build(pdftest.Lines("[TRANSPARENCIA] Solicitud de información", "Juan Pérez"))

	lines, err := newVision(model).RecognizeLines(context.Background(), content, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"[TRANSPARENCIA] Solicitud de información", "Juan Pérez"}, lines)

	text, err := ocr.Extract(context.Background(), newVision(model), content)
	require.NoError(t, err)
	assert.Equal(t, "[TRANSPARENCIA] Solicitud de información\nJuan Pérez", text)
	assert.Nil(t, model.messages)
}

func TestVisionEngine_PDFWithoutText(t *testing.T) {
	_, err := ocr.Extract(context.Background(), newVision(&visionModel{}), pdftest.Build(pdftest.Page{}))

	var ee *faults.ExtractionError
	assert.ErrorAs(t, err, &ee)
}

func TestVisionEngine_BrokenPDF(t *testing.T) {
	_, err := ocr.Extract(context.Background(), newVision(&visionModel{}), []byte("%PDF-1.7\nbasura"))

	var ee *faults.ExtractionError
	assert.ErrorAs(t, err, &ee)
}

func TestVisionEngine_UnsupportedMedia(t *testing.T) {
	_, err := ocr.Extract(context.Background(), newVision(&visionModel{}), []byte{0x00, 0x01, 0x02, 0xff})

	var ve *faults.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "image/png", ocr.DetectMIME(pngHeader))
	assert.Equal(t, "application/pdf", ocr.DetectMIME([]byte("%PDF-1.4")))
	assert.Equal(t, "text/plain", ocr.DetectMIME([]byte("hola")))
}
