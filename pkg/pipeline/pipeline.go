// Package pipeline wires the request-time stages together: OCR, cleaning,
// correction, retrieval, source resolution and answer generation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/pkg/faults"
	"github.com/xhad/normativa/pkg/normalizer"
	"github.com/xhad/normativa/pkg/ocr"
)

type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, message string, k int) (models.RetrievalResult, error)
}

type Generator interface {
	Generate(ctx context.Context, message, retrievedContext string, sources []string) (string, error)
}

type Resolver interface {
	Resolve(ids []string) []string
}

// Components are the collaborators an App is built from. Every field except
// TopK and Logger is required.
type Components struct {
	OCR        ocr.Engine
	Normalizer *normalizer.Normalizer
	Corrector  Corrector
	Retriever  Retriever
	Generator  Generator
	Resolver   Resolver
	TopK       int
	Logger     *slog.Logger
}

// App is the application context for the request pipeline. It is built once
// at startup and is safe for concurrent use when its components are.
type App struct {
	c Components
}

func New(c Components) (*App, error) {
	var missing []string
	if c.OCR == nil {
		missing = append(missing, "ocr")
	}
	if c.Normalizer == nil {
		missing = append(missing, "normalizer")
	}
	if c.Corrector == nil {
		missing = append(missing, "corrector")
	}
	if c.Retriever == nil {
		missing = append(missing, "retriever")
	}
	if c.Generator == nil {
		missing = append(missing, "generator")
	}
	if c.Resolver == nil {
		missing = append(missing, "resolver")
	}
	if len(missing) > 0 {
		return nil, &faults.ConfigurationError{
			Setting: "pipeline",
			Err:     fmt.Errorf("missing components: %s", strings.Join(missing, ", ")),
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return &App{c: c}, nil
}

// ProcessDocument recognizes document (a path or file content) and builds
// its request record.
func (a *App) ProcessDocument(ctx context.Context, document any) (models.RequestRecord, error) {
	raw, err := ocr.Extract(ctx, a.c.OCR, document)
	if err != nil {
		return models.RequestRecord{}, fmt.Errorf("recognizing document: %w", err)
	}
	return a.BuildRequest(ctx, raw)
}

// BuildRequest turns raw recognized text into a request record. No partial
// record is returned on failure.
func (a *App) BuildRequest(ctx context.Context, raw string) (models.RequestRecord, error) {
	header, body := a.c.Normalizer.Normalize(raw)

	corrected, err := a.c.Corrector.Correct(ctx, body)
	if err != nil {
		return models.RequestRecord{}, fmt.Errorf("correcting message: %w", err)
	}

	a.c.Logger.Debug("request built", "origin", header.Origin, "header_found", header.Found, "chars", len(corrected))
	return models.RequestRecord{
		Origen:  header.Origin,
		Titulo:  header.Title,
		Mensaje: corrected,
	}, nil
}

// Respond retrieves context for the record's message and generates the
// answer.
func (a *App) Respond(ctx context.Context, record models.RequestRecord) (models.Answer, error) {
	if strings.TrimSpace(record.Mensaje) == "" {
		return models.Answer{}, &faults.ValidationError{Field: "mensaje", Message: "message is empty"}
	}

	result, err := a.c.Retriever.Retrieve(ctx, record.Mensaje, a.c.TopK)
	if err != nil {
		return models.Answer{}, fmt.Errorf("retrieving context: %w", err)
	}
	names := a.c.Resolver.Resolve(result.Sources)

	text, err := a.c.Generator.Generate(ctx, record.Mensaje, result.Context, names)
	if err != nil {
		return models.Answer{}, fmt.Errorf("generating answer: %w", err)
	}

	a.c.Logger.Info("answer generated", "sources", len(names))
	return models.Answer{Text: text, Sources: names}, nil
}

// IsUserError reports whether err was caused by the caller's input rather
// than by a failing collaborator.
func IsUserError(err error) bool {
	var ve *faults.ValidationError
	var ee *faults.ExtractionError
	return errors.As(err, &ve) || errors.As(err, &ee)
}
