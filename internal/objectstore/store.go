// Package objectstore defines the storage-backend abstraction that
// internal/tiering moves segment and manifest data across: a uniform
// upload/download/list/delete surface over whatever medium a tier's
// data actually lives on (local disk today; network-backed object
// storage is a straightforward addition behind the same interface).
package objectstore

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = fmt.Errorf("objectstore: object not found")

// Metadata describes a stored object.
type Metadata struct {
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// Store is the capability every storage tier backend implements.
// Paths are store-relative: "tenant/acme/collections/products/segments/0001.seg",
// never absolute filesystem paths.
type Store interface {
	// UploadFile copies the local file at localPath to key.
	UploadFile(localPath, key string) error

	// DownloadFile copies key to the local file at localPath.
	DownloadFile(key, localPath string) error

	// UploadDir recursively copies the local directory at localDir to
	// the prefix remotePrefix, replacing anything already there.
	UploadDir(localDir, remotePrefix string) error

	// DownloadDir recursively copies remotePrefix to the local
	// directory localDir, replacing anything already there.
	DownloadDir(remotePrefix, localDir string) error

	// Delete removes key (file or directory prefix). Not an error if
	// key does not exist.
	Delete(key string) error

	// Exists reports whether key is present.
	Exists(key string) (bool, error)

	// GetMetadata returns metadata for key, or ErrNotFound.
	GetMetadata(key string) (Metadata, error)

	// List returns every object key under prefix.
	List(prefix string) ([]string, error)

	// Copy duplicates src to dst without removing src.
	Copy(src, dst string) error

	// Type identifies the backend, e.g. "local".
	Type() string
}

// IsNotExist reports whether err indicates a missing path, covering
// both ErrNotFound and the stdlib's fs.ErrNotExist.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
