// Package storage defines the document store the marginalia core reads and writes.
package storage

import "github.com/starford/marginalia/internal/models"

// Provider is the interface for vault document operations. All paths are
// relative to the vault root and use forward slashes.
type Provider interface {
	// List returns metadata for every .md document under dir without reading content.
	List(dir string) ([]models.DocumentMeta, error)
	// Stat returns the metadata of one document, including its modification stamp.
	Stat(path string) (models.DocumentMeta, error)
	// Read returns the raw bytes of the document at path.
	Read(path string) ([]byte, error)
	// Write replaces the content at path. Every successful Write advances the stamp.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
}

// IsDocument reports whether path names a Markdown document.
func IsDocument(path string) bool {
	return len(path) > 3 && path[len(path)-3:] == ".md"
}
