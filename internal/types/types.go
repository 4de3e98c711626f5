package types

import (
	"context"
	"errors"

	"github.com/xhad/normativa/internal/models"
)

// ErrCollectionNotFound is returned by GetCollection for unknown names.
var ErrCollectionNotFound = errors.New("collection not found")

// ErrCollectionExists is returned by CreateCollection when the name is taken.
var ErrCollectionExists = errors.New("collection already exists")

// ErrIndexInProgress is returned by Lock when another run holds the
// collection.
var ErrIndexInProgress = errors.New("indexing already in progress for collection")

// Core interfaces

// Collection is a named, similarity-searchable set of entries. Embeddings are
// computed by the collection, so inserts and queries deal in text only.
type Collection interface {
	Name() string
	Add(ctx context.Context, entries []models.Entry) error
	Query(ctx context.Context, text string, k int) ([]models.Match, error)
	Count(ctx context.Context) (int, error)
}

// VectorStore manages named collections.
type VectorStore interface {
	CreateCollection(ctx context.Context, name string) (Collection, error)
	GetCollection(ctx context.Context, name string) (Collection, error)
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)
	// Promote atomically replaces name with the contents of staging. staging
	// no longer exists afterwards.
	Promote(ctx context.Context, staging, name string) error
	// Lock reserves name for a rebuild; it fails fast with ErrIndexInProgress
	// when already held.
	Lock(ctx context.Context, name string) (unlock func(), err error)
	Close()
}

// Extractor flattens one document into text segments separated by blank
// lines.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}
