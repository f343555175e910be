// Package upload stores temporary client uploads until a component claims
// them. Component snapshots may reference a temp upload by descriptor, so
// files must survive round trips to the client; a consumed or expired file
// is represented by an empty placeholder rather than an error.
//
// Two backends are provided: DiskStore for single-server deployments and
// S3Store for multi-server deployments.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// ErrNotFound is returned when a temp file doesn't exist.
var ErrNotFound = errors.New("upload: file not found")

// ErrTooLarge is returned when a file exceeds the size limit.
var ErrTooLarge = errors.New("upload: file too large")

// Store is the interface for temp upload storage backends.
type Store interface {
	// Save stores the uploaded file and returns a temp ID.
	Save(ctx context.Context, filename, contentType string, size int64, r io.Reader) (tempID string, err error)

	// Claim retrieves and removes a temp file.
	// Returns ErrNotFound if the file was never saved or already claimed.
	Claim(ctx context.Context, tempID string) (*File, error)

	// Cleanup removes temp files older than maxAge.
	Cleanup(ctx context.Context, maxAge time.Duration) error
}

// File represents an uploaded file.
type File struct {
	// ID is the temp identifier for this upload.
	ID string

	// Filename is the original filename from the client.
	Filename string

	// ContentType is the MIME type of the file.
	ContentType string

	// Size is the file size in bytes.
	Size int64

	// Path is the local filesystem path (DiskStore).
	Path string

	// URL is the remote location (S3Store).
	URL string

	// Placeholder is true when this File stands in for an upload whose
	// backing data is gone (consumed or expired). Placeholder files have
	// no Path, URL, or Reader.
	Placeholder bool

	// Reader provides the file contents. May be nil for placeholders or
	// disk files (use Path instead).
	Reader io.ReadCloser
}

// Close closes the file reader if open.
func (f *File) Close() error {
	if f.Reader != nil {
		return f.Reader.Close()
	}
	return nil
}

// PlaceholderFor returns an empty placeholder preserving only the metadata
// of a file whose contents are no longer available.
func PlaceholderFor(filename, contentType string, size int64) *File {
	return &File{
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		Placeholder: true,
	}
}

// Config holds upload handler configuration.
type Config struct {
	// MaxFileSize is the maximum accepted file size in bytes.
	// Default: 10MB.
	MaxFileSize int64
}

// DefaultConfig returns the default upload configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize: 10 * 1024 * 1024,
	}
}

// Handler returns an http.Handler accepting multipart uploads on the
// "file" field and responding with JSON: {"temp_id": "..."}.
func Handler(store Store) http.Handler {
	return HandlerWithConfig(store, DefaultConfig())
}

// HandlerWithConfig returns an upload handler with custom configuration.
func HandlerWithConfig(store Store, config *Config) http.Handler {
	maxSize := config.MaxFileSize
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Limit request body size BEFORE parsing to prevent abuse.
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "No file provided", http.StatusBadRequest)
			return
		}
		defer file.Close()

		tempID, err := store.Save(r.Context(),
			header.Filename,
			header.Header.Get("Content-Type"),
			header.Size,
			file,
		)
		if err != nil {
			if errors.Is(err, ErrTooLarge) {
				http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Upload failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"temp_id": tempID})
	})
}
