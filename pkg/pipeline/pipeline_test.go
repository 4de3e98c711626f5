package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/pkg/catalog"
	"github.com/xhad/normativa/pkg/faults"
	"github.com/xhad/normativa/pkg/normalizer"
	"github.com/xhad/normativa/pkg/pipeline"
)

type textEngine struct{}

func (textEngine) RecognizeLines(_ context.Context, content []byte, _ string) ([]string, error) {
	return strings.Split(string(content), "\n"), nil
}

type upperCorrector struct {
	err   error
	calls int
}

func (c *upperCorrector) Correct(_ context.Context, text string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	if text == "" {
		return "", nil
	}
	return strings.ToUpper(text[:1]) + text[1:], nil
}

type fakeRetriever struct {
	result  models.RetrievalResult
	err     error
	message string
	k       int
}

func (r *fakeRetriever) Retrieve(_ context.Context, message string, k int) (models.RetrievalResult, error) {
	r.message, r.k = message, k
	return r.result, r.err
}

type fakeGenerator struct {
	err     error
	context string
	sources []string
	calls   int
}

func (g *fakeGenerator) Generate(_ context.Context, message, retrievedContext string, sources []string) (string, error) {
	g.calls++
	g.context, g.sources = retrievedContext, sources
	if g.err != nil {
		return "", g.err
	}
	return "Respuesta a: " + message, nil
}

type fixture struct {
	app       *pipeline.App
	corrector *upperCorrector
	retriever *fakeRetriever
	generator *fakeGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		corrector: &upperCorrector{},
		retriever: &fakeRetriever{result: models.NewRetrievalResult("fragmento uno\n\nfragmento dos", []string{"ley.pdf", "circ.pdf"})},
		generator: &fakeGenerator{},
	}
	app, err := pipeline.New(pipeline.Components{
		OCR:        textEngine{},
		Normalizer: normalizer.NewDefault(),
		Corrector:  f.corrector,
		Retriever:  f.retriever,
		Generator:  f.generator,
		Resolver:   catalog.New(map[string]string{"ley.pdf": "Ley del Banco de México"}),
		TopK:       10,
	})
	require.NoError(t, err)
	f.app = app
	return f
}

const scenario = "[TRANSPARENCIA] Solicitud de info\nJuan Pérez\ncontacto@example.com\nResponder"

func TestBuildRequest(t *testing.T) {
	f := newFixture(t)

	record, err := f.app.BuildRequest(context.Background(), scenario)

	require.NoError(t, err)
	assert.Equal(t, models.RequestRecord{Origen: "TRANSPARENCIA", Titulo: "Solicitud de info", Mensaje: "[correo]"}, record)
}

func TestBuildRequest_NoHeader(t *testing.T) {
	f := newFixture(t)

	record, err := f.app.BuildRequest(context.Background(), "quisiera conocer el reglamento vigente")

	require.NoError(t, err)
	assert.Equal(t, models.DefaultOrigin, record.Origen)
	assert.Equal(t, models.DefaultTitle, record.Titulo)
	assert.Equal(t, "Quisiera conocer el reglamento vigente", record.Mensaje)
}

func TestBuildRequest_CorrectorFailure(t *testing.T) {
	f := newFixture(t)
	f.corrector.err = &faults.ServiceError{Service: "llm", Op: "correct", Err: errors.New("boom")}

	record, err := f.app.BuildRequest(context.Background(), scenario)

	var se *faults.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.RequestRecord{}, record)
}

func TestProcessDocument(t *testing.T) {
	f := newFixture(t)

	record, err := f.app.ProcessDocument(context.Background(), []byte(scenario))

	require.NoError(t, err)
	assert.Equal(t, "TRANSPARENCIA", record.Origen)
	assert.Equal(t, "[correo]", record.Mensaje)
}

func TestProcessDocument_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.ProcessDocument(context.Background(), 3.14)

	var ve *faults.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, pipeline.IsUserError(err))
	assert.Equal(t, 0, f.corrector.calls)
}

func TestRespond(t *testing.T) {
	f := newFixture(t)
	record := models.RequestRecord{Origen: "UT", Titulo: "t", Mensaje: "¿Qué comisiones aplican?"}

	answer, err := f.app.Respond(context.Background(), record)

	require.NoError(t, err)
	assert.Equal(t, "Respuesta a: ¿Qué comisiones aplican?", answer.Text)
	assert.Equal(t, []string{"circ.pdf", "Ley del Banco de México"}, answer.Sources)
	assert.Equal(t, "¿Qué comisiones aplican?", f.retriever.message)
	assert.Equal(t, 10, f.retriever.k)
	assert.Equal(t, "fragmento uno\n\nfragmento dos", f.generator.context)
	assert.Equal(t, answer.Sources, f.generator.sources)
}

func TestRespond_RetrievalFailureStopsPipeline(t *testing.T) {
	f := newFixture(t)
	f.retriever.err = &faults.ServiceError{Service: "store", Op: "query", Err: errors.New("down")}

	_, err := f.app.Respond(context.Background(), models.RequestRecord{Mensaje: "hola mundo"})

	var se *faults.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, f.generator.calls)
}

func TestRespond_EmptyMessage(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.Respond(context.Background(), models.RequestRecord{Origen: "x", Mensaje: "  "})

	var ve *faults.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "mensaje", ve.Field)
}

func TestNew_MissingComponents(t *testing.T) {
	_, err := pipeline.New(pipeline.Components{Normalizer: normalizer.NewDefault()})

	var cfgErr *faults.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "ocr")
	assert.Contains(t, err.Error(), "resolver")
}

func TestRecordRoundTrip(t *testing.T) {
	record := models.RequestRecord{
		Origen:  "TRANSPARENCIA",
		Titulo:  "Solicitud <urgente> & info",
		Mensaje: "Solicito información sobre la Circular 3/2012: \"comisiones\".",
	}

	var buf bytes.Buffer
	require.NoError(t, pipeline.SaveRecord(&buf, record))

	assert.Equal(t, "{\n  \"origen\": \"TRANSPARENCIA\",\n  \"titulo\": \"Solicitud <urgente> & info\",\n"+
		"  \"mensaje\": \"Solicito información sobre la Circular 3/2012: \\\"comisiones\\\".\"\n}\n", buf.String())

	loaded, err := pipeline.LoadRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, record, loaded)
}

func TestLoadRecord_RejectsUnknownKeys(t *testing.T) {
	_, err := pipeline.LoadRecord(strings.NewReader(`{"origen":"a","titulo":"b","mensaje":"c","extra":1}`))
	assert.Error(t, err)
}

func TestRecordFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	record := models.RequestRecord{Origen: "A", Titulo: "B", Mensaje: "C"}

	path, err := pipeline.WriteRecordFile(dir, "/uploads/solicitud.final.png", record)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "solicitud.final.json"), path)

	loaded, err := pipeline.ReadRecordFile(path)
	require.NoError(t, err)
	assert.Equal(t, record, loaded)

	answerPath, err := pipeline.WriteAnswerFile(dir, path, models.Answer{Text: "Respuesta"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "solicitud.final_respuesta.txt"), answerPath)

	content, err := os.ReadFile(answerPath)
	require.NoError(t, err)
	assert.Equal(t, "Respuesta\n", string(content))
}
