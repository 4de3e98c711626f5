package llm

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

const (
	GeneratorTemperature = 0.3
	GeneratorMaxTokens   = 1024
)

// Generator drafts the institutional answer to a request from retrieved
// normative fragments.
type Generator struct {
	chat *ChatEngine
}

func NewGenerator(chat *ChatEngine) *Generator {
	return &Generator{chat: chat}
}

// Generate answers message using only retrievedContext. sources are the
// display names of the documents the context came from.
func (g *Generator) Generate(ctx context.Context, message, retrievedContext string, sources []string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, BuildPrompt(message, retrievedContext, sources)),
	}
	return g.chat.Complete(ctx, "generate", content,
		llms.WithTemperature(GeneratorTemperature),
		llms.WithMaxTokens(GeneratorMaxTokens),
	)
}

// BuildPrompt renders the single user prompt sent to the model.
func BuildPrompt(message, retrievedContext string, sources []string) string {
	var b strings.Builder

	b.WriteString("Eres un asistente normativo formal, preciso y respetuoso. ")
	b.WriteString("Tu tarea es responder a solicitudes de información utilizando exclusivamente el contexto normativo proporcionado. ")
	b.WriteString("No inventes normativas ni procedimientos.\n\n")

	b.WriteString("Las siguientes normativas fueron identificadas como relevantes por el sistema de recuperación semántica. ")
	b.WriteString("Inclúyelas explícitamente en tu respuesta si las utilizas para fundamentar tu argumento:\n\n")
	for _, s := range sources {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}

	b.WriteString("\n---\n\nFragmentos normativos relevantes:\n")
	b.WriteString(retrievedContext)

	b.WriteString("\n\n---\n\nSolicitud del ciudadano:\n")
	b.WriteString(message)

	b.WriteString("\n\n---\n\n")
	b.WriteString("Redacta una respuesta profesional y normativa, citando al menos una de las normativas mencionadas si su contenido es utilizado.")

	return b.String()
}
