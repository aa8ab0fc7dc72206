// Package objectstore persists export batches for the training job.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/opensource-finance/aura/internal/domain"
)

var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrEmptyKey indicates an empty object key was provided.
	ErrEmptyKey = errors.New("object key must not be empty")
	// ErrInvalidKey indicates the object key contains a path traversal segment.
	ErrInvalidKey = errors.New("object key contains invalid path segment")
)

// Store holds export batches under slash-separated keys.
type Store interface {
	// Init prepares the backing container or directory.
	Init(ctx context.Context) error
	// Put writes r to key and returns the location of the stored object.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	// Get returns a stream for the object at key. The caller must close it.
	// Returns ErrNotFound if the object does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// New creates a store from cfg.
func New(cfg domain.ObjectStoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case "file", "":
		return NewFileStore(cfg.Dir)
	case "memory":
		return NewMemoryStore(), nil
	case "azure":
		return NewAzureStore(cfg.ConnectionString, cfg.ContainerName, logger)
	default:
		return nil, fmt.Errorf("unsupported object store type: %s", cfg.Type)
	}
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	return nil
}
