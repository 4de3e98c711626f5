package llm

import (
	"context"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
)

type fakeCall struct {
	messages []llms.MessageContent
	options  llms.CallOptions
}

// fakeModel replies with responses in order, repeating the last one. errs[i]
// fails call i when non-nil.
type fakeModel struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	block     bool
	calls     []fakeCall
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}

	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{messages: messages, options: opts})
	i := len(f.calls) - 1
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}

	text := ""
	if len(f.responses) > 0 {
		text = f.responses[min(i, len(f.responses)-1)]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func textOf(m llms.MessageContent) string {
	var s string
	for _, p := range m.Parts {
		if t, ok := p.(llms.TextContent); ok {
			s += t.Text
		}
	}
	return s
}

func newTestEngine(model llms.Model) *ChatEngine {
	engine := NewWithModel(model, ChatConfig{Timeout: time.Second})
	engine.caller.backoff = func(int) time.Duration { return 0 }
	return engine
}
