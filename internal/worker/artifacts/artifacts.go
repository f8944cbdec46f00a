// Package artifacts persists finished generation results. Filesystem-backed;
// the returned reference is what the status API hands to the client.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store writes result artifacts under a base directory
type Store struct {
	dir string
}

// NewStore initializes a Store rooted at dir, creating it if needed
func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("artifacts: dir is required")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: ensure dir: %w", err)
	}

	return &Store{dir: dir}, nil
}

// Save writes a result artifact for jobID and returns its reference
func (s *Store) Save(jobID string, data []byte, mimeType string) (string, error) {
	if jobID == "" {
		return "", errors.New("artifacts: job id is required")
	}

	name := jobID + extensionFor(mimeType)
	fullPath := filepath.Join(s.dir, name)

	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write file: %w", err)
	}

	return name, nil
}

// extensionFor maps the engine's mime type to a file extension
func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
