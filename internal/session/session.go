// Package session persists the chapter/image graph between runs: a JSON
// snapshot for resuming interrupted generation and a CSV review file for
// bulk correction of generated text.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/book"
)

// WriteSnapshot serializes the full chapter graph to path as a JSON array.
// The file is written to a temp file first and renamed into place so an
// interrupt mid-write never leaves a truncated snapshot behind.
func WriteSnapshot(path string, chapters []*book.Chapter) error {
	data, err := json.MarshalIndent(chapters, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// ReadSnapshot reconstructs a chapter graph from a snapshot written by
// WriteSnapshot. Every field round-trips, including the distinction between
// "not yet generated" (null) and generated text.
func ReadSnapshot(path string) ([]*book.Chapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var chapters []*book.Chapter
	if err := json.Unmarshal(data, &chapters); err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", path, err)
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("session file %s contains no chapters", path)
	}
	return chapters, nil
}
