package notes

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrNoteExists is returned when a note with the same file name is already
// present in the folder.
var ErrNoteExists = errors.New("note already exists")

// Writer creates note files in a folder.
type Writer struct {
	logger *slog.Logger
	folder string
}

// NewWriter creates a new Writer rooted at folder.
func NewWriter(logger *slog.Logger, folder string) *Writer {
	return &Writer{logger: logger, folder: folder}
}

// Write creates the note file and returns its path. Existing files are never
// overwritten.
func (w *Writer) Write(note Note) (string, error) {
	if err := os.MkdirAll(w.folder, 0o755); err != nil {
		return "", fmt.Errorf("failed to create notes folder: %w", err)
	}

	path := filepath.Join(w.folder, note.Filename)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return path, fmt.Errorf("%w: %s", ErrNoteExists, path)
		}
		return "", fmt.Errorf("failed to create note: %w", err)
	}

	if _, err := f.WriteString(note.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write note: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close note: %w", err)
	}

	w.logger.Info("Note created", "path", path)
	return path, nil
}
