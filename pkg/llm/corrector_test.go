package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/normativa/pkg/faults"
)

func TestCorrector_Correct(t *testing.T) {
	model := &fakeModel{responses: []string{"\nSolicito información sobre las comisiones.\n"}}
	corrector := NewCorrector(newTestEngine(model))

	out, err := corrector.Correct(context.Background(), "solisito informasion sobre las comisiones")

	require.NoError(t, err)
	assert.Equal(t, "Solicito información sobre las comisiones.", out)

	require.Len(t, model.calls, 1)
	call := model.calls[0]
	require.Len(t, call.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, call.messages[0].Role)
	assert.Equal(t, correctorSystemPrompt, textOf(call.messages[0]))
	assert.Equal(t, llms.ChatMessageTypeHuman, call.messages[1].Role)
	assert.Contains(t, textOf(call.messages[1]), "solisito informasion sobre las comisiones")
	assert.Equal(t, 0.0, call.options.Temperature)
}

func TestCorrector_BlankInputSkipsModel(t *testing.T) {
	model := &fakeModel{responses: []string{"algo"}}
	corrector := NewCorrector(newTestEngine(model))

	out, err := corrector.Correct(context.Background(), "   ")

	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 0, model.callCount())
}

func TestCorrector_FailureIsServiceError(t *testing.T) {
	model := &fakeModel{errs: []error{errors.New("unauthorized")}}
	corrector := NewCorrector(newTestEngine(model))

	out, err := corrector.Correct(context.Background(), "texto original")

	var se *faults.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "correct", se.Op)
	assert.Empty(t, out)
}
