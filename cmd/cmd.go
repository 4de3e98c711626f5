package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/internal/types"
	"github.com/xhad/normativa/pkg/catalog"
	cfgPkg "github.com/xhad/normativa/pkg/config"
	"github.com/xhad/normativa/pkg/extractor"
	"github.com/xhad/normativa/pkg/faults"
	"github.com/xhad/normativa/pkg/indexer"
	"github.com/xhad/normativa/pkg/llm"
	"github.com/xhad/normativa/pkg/normalizer"
	"github.com/xhad/normativa/pkg/ocr"
	"github.com/xhad/normativa/pkg/pipeline"
	"github.com/xhad/normativa/pkg/processor"
	"github.com/xhad/normativa/pkg/retrieval"
	"github.com/xhad/normativa/pkg/store"
	"github.com/xhad/normativa/server"
)

// application holds the loaded configuration and the lazily opened
// collaborators shared by the subcommands.
type application struct {
	config *cfgPkg.Config
	log    *slog.Logger
	store  types.VectorStore
}

func newApplication(configPath string, logger *slog.Logger) (*application, error) {
	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return nil, &faults.ConfigurationError{Setting: "config", Err: err}
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("  %s", e.Error())
		}
		return nil, &faults.ConfigurationError{Setting: errs[0].Field, Err: errors.New(errs[0].Message)}
	}
	return &application{config: cfg, log: logger}, nil
}

func (a *application) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func (a *application) openStore(ctx context.Context) (types.VectorStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	embedder, err := llm.NewEmbedderWithConfig(a.config.EmbedderConfig(a.log))
	if err != nil {
		return nil, err
	}
	vs, err := store.New(ctx, a.config.StoreConfig(a.log), embedder)
	if err != nil {
		return nil, err
	}
	a.store = vs
	return vs, nil
}

// buildPipeline wires the request pipeline. The catalog is loaded before any
// model client is created.
func (a *application) buildPipeline(ctx context.Context) (*pipeline.App, error) {
	titles, err := catalog.Load(a.config.Corpus.Catalog)
	if err != nil {
		return nil, err
	}
	a.log.Debug("catalog loaded", "titles", titles.Len())

	rules, err := a.config.NormalizerRules()
	if err != nil {
		return nil, &faults.ConfigurationError{Setting: "normalizer", Err: err}
	}

	chat, err := llm.NewWithConfig(a.config.ChatConfig(a.log))
	if err != nil {
		return nil, err
	}
	vision, err := llm.NewWithConfig(a.config.VisionConfig(a.log))
	if err != nil {
		return nil, err
	}

	vs, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Components{
		OCR:        ocr.NewVisionEngine(vision),
		Normalizer: normalizer.New(rules),
		Corrector:  llm.NewCorrector(chat),
		Retriever: retrieval.NewWithConfig(vs, retrieval.EngineConfig{
			Collection: a.config.Corpus.Collection,
			TopK:       a.config.Retrieval.TopK,
			Logger:     a.log,
		}),
		Generator: llm.NewGenerator(chat),
		Resolver:  titles,
		TopK:      a.config.Retrieval.TopK,
		Logger:    a.log,
	})
}

func runIndex(ctx context.Context, a *application, args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	folder := fs.String("folder", a.config.Corpus.Folder, "Folder containing the regulatory PDFs")
	collection := fs.String("collection", a.config.Corpus.Collection, "Collection to rebuild")
	fs.Parse(args)

	vs, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	indexerConfig := a.config.IndexerConfig(a.log)
	indexerConfig.Folder = *folder
	indexerConfig.Collection = *collection

	color.Blue("\nIndexing %s into %q\n", *folder, *collection)
	bar := getProgressBar(-1, "Indexing documents...")
	indexerConfig.OnProgress = func(p indexer.Progress) {
		if bar.GetMax() != p.Total {
			bar.ChangeMax(p.Total)
		}
		bar.Set(p.Done)
		if p.Err != nil {
			bar.Describe(color.YellowString("Skipped %s", p.Document))
		} else {
			bar.Describe(color.BlueString("Indexed %s (%d chunks)", p.Document, p.Chunks))
		}
	}

	ext := extractor.NewWithConfig(extractor.ExtractorConfig{Logger: a.log})
	proc := processor.NewWithConfig(processor.ProcessorConfig{})

	report, err := indexer.NewWithConfig(vs, ext, proc, indexerConfig).Run(ctx)
	bar.Finish()
	fmt.Println()
	if err != nil {
		return fmt.Errorf("indexing failed, previous index kept: %w", err)
	}

	printReport(report)
	return nil
}

func printReport(report models.IndexReport) {
	color.Green("✓ Indexed %d documents into %d chunks (%s)\n", report.Documents, report.Chunks, report.Collection)
	if len(report.Skipped) == 0 {
		return
	}
	color.Yellow("Skipped %d documents:\n", len(report.Skipped))
	for _, f := range report.Skipped {
		fmt.Printf("  - %s: %s\n", f.Document, f.Reason)
	}
}

func runProcess(ctx context.Context, a *application, args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	input := fs.String("input", "", "Scanned request: image, PDF or plain text")
	out := fs.String("out", a.config.Output.Dir, "Directory for the request record")
	fs.Parse(args)

	if *input == "" {
		return &faults.ValidationError{Field: "input", Message: "-input is required"}
	}

	app, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}

	record, err := withSpinner("Reading document...", func() (models.RequestRecord, error) {
		return app.ProcessDocument(ctx, *input)
	})
	if err != nil {
		return err
	}

	path, err := pipeline.WriteRecordFile(*out, *input, record)
	if err != nil {
		return err
	}
	if err := pipeline.SaveRecord(os.Stdout, record); err != nil {
		return err
	}
	color.Green("✓ Record saved to %s\n", path)
	return nil
}

func runRespond(ctx context.Context, a *application, args []string) error {
	fs := flag.NewFlagSet("respond", flag.ExitOnError)
	recordPath := fs.String("record", "", "Request record JSON produced by process")
	out := fs.String("out", a.config.Output.Dir, "Directory for the answer")
	fs.Parse(args)

	if *recordPath == "" {
		return &faults.ValidationError{Field: "record", Message: "-record is required"}
	}
	record, err := pipeline.ReadRecordFile(*recordPath)
	if err != nil {
		return &faults.ValidationError{Field: "record", Message: err.Error()}
	}

	app, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}

	answer, err := withSpinner("Generating answer...", func() (models.Answer, error) {
		return app.Respond(ctx, record)
	})
	if err != nil {
		return err
	}

	printAnswer(answer)
	path, err := pipeline.WriteAnswerFile(*out, *recordPath, answer)
	if err != nil {
		return err
	}
	color.Green("✓ Answer saved to %s\n", path)
	return nil
}

func printAnswer(answer models.Answer) {
	assistant := color.New(color.FgCyan).PrintfFunc()
	assistant("\n%s\n", answer.Text)
	if len(answer.Sources) > 0 {
		color.Blue("\nFuentes:")
		for _, s := range answer.Sources {
			fmt.Printf("  - %s\n", s)
		}
	}
}

func runChat(ctx context.Context, a *application, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	fs.Parse(args)

	app, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}

	// Interactive chat loop with colored output
	color.Cyan("\nEscribe una solicitud (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nSolicitud: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if query == "" {
			continue
		}

		answer, err := withSpinner("Thinking...", func() (models.Answer, error) {
			record, err := app.BuildRequest(ctx, query)
			if err != nil {
				return models.Answer{}, err
			}
			return app.Respond(ctx, record)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			color.Red("Error: %v\n", err)
			continue
		}
		printAnswer(answer)
	}

	return scanner.Err()
}

func runServe(ctx context.Context, a *application, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", a.config.Server.Port, "Port to listen on")
	fs.Parse(args)

	app, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}

	srv := server.NewWSServer(app, server.Config{
		Port:   *port,
		Logger: a.log,
	})
	return srv.ListenAndServe(ctx)
}
