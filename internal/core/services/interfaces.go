package services

import (
	"context"
	"io"

	"github.com/composer-registry/server/internal/core/models"
)

// BlobStorage handles content-addressed archive storage on disk.
type BlobStorage interface {
	// Store streams data to disk, computing its SHA256 and SHA1 hashes.
	// The SHA256 hash addresses the blob; the SHA1 is the Composer dist
	// shasum. Returns both hex-encoded hashes and total bytes written.
	Store(r io.Reader) (hash, sha1 string, size int64, err error)

	// Open returns a ReadCloser for the blob with the given hash.
	Open(hash string) (io.ReadCloser, error)

	// Exists checks if a blob with the given hash exists.
	Exists(hash string) bool

	// Delete removes a blob by hash.
	Delete(hash string) error

	// BlobPath returns the full path for a given hash.
	BlobPath(hash string) string

	// ListBlobs returns all blob hashes on disk.
	ListBlobs() ([]string, error)
}

// Catalog enumerates the hosted components of the repository.
type Catalog interface {
	// CreateComponent records a component. ErrConflict if the
	// (group, name, version) triple already exists.
	CreateComponent(group, name, version, hash, sha1 string, size int64) (*models.Component, error)

	// GetComponent retrieves a component, nil if absent.
	GetComponent(group, name, version string) (*models.Component, error)

	// ListComponents returns all components in insertion order.
	ListComponents() ([]models.Component, error)

	// ListComponentsByPackage returns all versions of one vendor/project.
	ListComponentsByPackage(group, name string) ([]models.Component, error)

	// DeleteComponent deletes a component by coordinates.
	DeleteComponent(group, name, version string) error

	// ReferencedHashes returns all blob hashes referenced by components.
	ReferencedHashes() (map[string]bool, error)

	// Close closes the catalog.
	Close() error
}

// Authenticator validates request tokens.
type Authenticator interface {
	// ValidateToken checks if a token is valid.
	ValidateToken(token string) bool
}

// UpstreamClient retrieves documents and artifacts from an upstream or
// member repository.
type UpstreamClient interface {
	// Fetch retrieves url. A 404 maps to ErrNotFound.
	Fetch(ctx context.Context, url string) ([]byte, error)

	// OpenStream retrieves url as a stream for artifact proxying.
	OpenStream(ctx context.Context, url string) (io.ReadCloser, error)
}
