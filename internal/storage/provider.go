// Package storage manages the downloads directory that holds managed blobs.
package storage

import (
	"io"
	"time"
)

// FileInfo describes one file in the downloads directory.
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Provider is the interface for downloads directory operations. Names are
// relative to the provider root.
type Provider interface {
	// Path resolves name to an absolute path under the root.
	Path(name string) (string, error)
	// Write atomically streams r into name and returns the absolute path and
	// the number of bytes written.
	Write(name string, r io.Reader) (string, int64, error)
	// Delete removes name. Missing files are not an error.
	Delete(name string) error
	// List returns every regular file under the root.
	List() ([]FileInfo, error)
}
