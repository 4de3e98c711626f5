package ocr

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/normativa/pkg/extractor"
	"github.com/xhad/normativa/pkg/faults"
	"github.com/xhad/normativa/pkg/llm"
)

const visionPrompt = "Transcribe literalmente todo el texto visible en la imagen, respetando el orden " +
	"de las líneas y sin corregir errores. Escribe cada línea del documento en su propio renglón. " +
	"Responde únicamente con el texto transcrito, sin comentarios ni formato adicional."

var errNoTextLayer = errors.New("pdf has no text layer")

var codeBlockRe = regexp.MustCompile("(?s)^```[a-z]*\\s*(.*?)\\s*```$")

// VisionEngine reads images with a vision-capable language model and PDFs
// from their embedded text layer.
type VisionEngine struct {
	chat *llm.ChatEngine
}

var _ Engine = (*VisionEngine)(nil)

func NewVisionEngine(chat *llm.ChatEngine) *VisionEngine {
	return &VisionEngine{chat: chat}
}

func (v *VisionEngine) RecognizeLines(ctx context.Context, content []byte, mimeType string) ([]string, error) {
	switch {
	case mimeType == "application/pdf":
		text, err := extractor.PlainText(content)
		if err != nil {
			return nil, &faults.ExtractionError{Document: "upload.pdf", Err: err}
		}
		if strings.TrimSpace(text) == "" {
			return nil, &faults.ExtractionError{Document: "upload.pdf", Err: errNoTextLayer}
		}
		return splitLines(text), nil

	case strings.HasPrefix(mimeType, "image/"):
		messages := []llms.MessageContent{{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextContent{Text: visionPrompt},
				llms.BinaryPart(mimeType, content),
			},
		}}
		text, err := v.chat.Complete(ctx, "ocr", messages, llms.WithTemperature(0))
		if err != nil {
			return nil, err
		}
		return splitLines(stripCodeBlock(text)), nil

	case mimeType == "text/plain":
		return splitLines(string(content)), nil
	}

	return nil, &faults.ValidationError{Field: "document", Message: "unsupported media type " + mimeType}
}

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func splitLines(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
