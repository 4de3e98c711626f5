package llm

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

const (
	correctorSystemPrompt = "Eres un corrector ortográfico profesional."
	correctorInstructions = "Corrige ortografía y redacción del siguiente mensaje en español. " +
		"No inventes información ni quites contenido relevante. " +
		"Solo corrige los errores:\n\n"
)

// Corrector fixes spelling and grammar of a cleaned request body without
// changing its content.
type Corrector struct {
	chat *ChatEngine
}

func NewCorrector(chat *ChatEngine) *Corrector {
	return &Corrector{chat: chat}
}

// Correct returns the corrected text. A blank body is returned as is
// without calling the model.
func (c *Corrector) Correct(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, correctorSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, correctorInstructions+text),
	}
	return c.chat.Complete(ctx, "correct", content, llms.WithTemperature(0))
}
