// Package indexer rebuilds a corpus collection from a folder of PDFs.
//
// A run fills a fresh staging collection and promotes it over the live one
// only when every document has been processed, so readers never observe a
// half-built index and a failed run leaves the previous index in place.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/normativa/internal/models"
	"github.com/xhad/normativa/internal/types"
	"github.com/xhad/normativa/pkg/faults"
	"github.com/xhad/normativa/pkg/processor"
	"github.com/xhad/normativa/pkg/store"
)

// Progress is reported once per processed document.
type Progress struct {
	Document string
	Chunks   int
	Err      error
	Done     int
	Total    int
}

type IndexerConfig struct {
	Folder     string
	Collection string
	Workers    int
	BatchSize  int
	Logger     *slog.Logger
	// OnProgress, when set, is called from worker goroutines; calls are
	// serialized.
	OnProgress func(Progress)
}

type Indexer struct {
	config    IndexerConfig
	store     types.VectorStore
	extractor types.Extractor
	processor processor.Processor
}

func NewWithConfig(vs types.VectorStore, ext types.Extractor, proc processor.Processor, config IndexerConfig) *Indexer {
	if config.Collection == "" {
		config.Collection = "normatividad"
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Indexer{
		config:    config,
		store:     vs,
		extractor: ext,
		processor: proc,
	}
}

// Run indexes every PDF in the configured folder. Documents that cannot be
// extracted are skipped and listed in the report; any store or embedding
// failure aborts the run and discards the staging collection.
func (ix *Indexer) Run(ctx context.Context) (models.IndexReport, error) {
	report := models.IndexReport{Collection: ix.config.Collection}

	if err := store.ValidateName(ix.config.Collection); err != nil {
		return report, &faults.ConfigurationError{Setting: "corpus.collection", Err: err}
	}
	paths, err := listDocuments(ix.config.Folder)
	if err != nil {
		return report, err
	}

	log := ix.config.Logger.With("collection", ix.config.Collection)
	if len(paths) == 0 {
		log.Warn("no PDF documents found", "folder", ix.config.Folder)
	}

	unlock, err := ix.store.Lock(ctx, ix.config.Collection)
	if err != nil {
		return report, err
	}
	defer unlock()

	staging := StagingName(ix.config.Collection)
	collection, err := ix.store.CreateCollection(ctx, staging)
	if err != nil {
		return report, fmt.Errorf("creating staging collection: %w", err)
	}
	log.Info("indexing started", "staging", staging, "documents", len(paths), "workers", ix.config.Workers)

	if err := ix.fill(ctx, collection, paths, &report); err != nil {
		ix.discard(ctx, staging, log)
		return report, err
	}

	if err := ix.store.Promote(ctx, staging, ix.config.Collection); err != nil {
		ix.discard(ctx, staging, log)
		return report, fmt.Errorf("promoting staging collection: %w", err)
	}

	log.Info("indexing complete", "documents", report.Documents, "chunks", report.Chunks, "skipped", len(report.Skipped))
	return report, nil
}

func (ix *Indexer) fill(ctx context.Context, collection types.Collection, paths []string, report *models.IndexReport) error {
	var mu sync.Mutex
	done := 0
	finish := func(doc string, chunks int, err error) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if err != nil {
			report.Skipped = append(report.Skipped, models.DocumentFailure{Document: doc, Reason: err.Error()})
		} else {
			report.Documents++
			report.Chunks += chunks
		}
		if ix.config.OnProgress != nil {
			ix.config.OnProgress(Progress{Document: doc, Chunks: chunks, Err: err, Done: done, Total: len(paths)})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.config.Workers)

	for _, path := range paths {
		g.Go(func() error {
			doc := filepath.Base(path)
			log := ix.config.Logger.With("doc", doc)

			text, err := ix.extractor.Extract(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("skipping document", "error", err)
				finish(doc, 0, err)
				return nil
			}

			chunks := ix.processor.Process(doc, text)
			entries := processor.Entries(chunks)
			for start := 0; start < len(entries); start += ix.config.BatchSize {
				end := min(start+ix.config.BatchSize, len(entries))
				if err := collection.Add(gctx, entries[start:end]); err != nil {
					return fmt.Errorf("indexing %s: %w", doc, err)
				}
			}

			log.Debug("document indexed", "chunks", len(chunks))
			finish(doc, len(chunks), nil)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(report.Skipped, func(i, j int) bool {
		return report.Skipped[i].Document < report.Skipped[j].Document
	})
	return nil
}

func (ix *Indexer) discard(ctx context.Context, staging string, log *slog.Logger) {
	if err := ix.store.DeleteCollection(context.WithoutCancel(ctx), staging); err != nil {
		log.Error("failed to drop staging collection", "staging", staging, "error", err)
	}
}

// StagingName returns a fresh, valid collection name for rebuilding name.
func StagingName(name string) string {
	return name + "_staging_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// listDocuments returns the PDFs directly inside folder, sorted by name.
func listDocuments(folder string) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, &faults.ConfigurationError{Setting: "corpus.folder", Err: err}
	}
	if !info.IsDir() {
		return nil, &faults.ConfigurationError{Setting: "corpus.folder", Err: errors.New(folder + " is not a directory")}
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, &faults.ConfigurationError{Setting: "corpus.folder", Err: err}
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		paths = append(paths, filepath.Join(folder, e.Name()))
	}
	return paths, nil
}
