// Package storage abstracts where fetch debug bundles land. The default
// backend is the local filesystem; the interface leaves room for object
// storage.
package storage

import (
	"context"
	"time"
)

// Metadata is the sidecar record written alongside each stored artefact
type Metadata struct {
	ContentType string            `json:"contentType,omitempty"`
	Store       string            `json:"store,omitempty"`
	SourceURL   string            `json:"sourceUrl,omitempty"`
	CapturedAt  time.Time         `json:"capturedAt,omitempty"`
	Custom      map[string]string `json:"custom,omitempty"`
}

// FileInfo describes a stored artefact without its content
type FileInfo struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Metadata   *Metadata `json:"metadata,omitempty"`
}

// Storage is the backend contract for debug-bundle artefacts
type Storage interface {
	// Put stores content at the given key with optional metadata
	Put(ctx context.Context, key string, content []byte, metadata *Metadata) error

	// Get retrieves content from the given key
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks whether a file exists at the given key
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the file at the given key
	Delete(ctx context.Context, key string) error

	// List returns all keys matching the given prefix
	List(ctx context.Context, prefix string) ([]string, error)
}
