package session

import (
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"os"

	"go.uber.org/multierr"

	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/book"
)

// WriteReviewCSV writes one image_src,alt_text row per image that has
// generated text. No header row; images still awaiting generation are
// omitted.
func WriteReviewCSV(path string, chapters []*book.Chapter) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create review file: %w", err)
	}

	w := csv.NewWriter(f)
	for _, ch := range chapters {
		for _, img := range ch.Images {
			if !img.Generated() {
				continue
			}
			if err := w.Write([]string{img.Src, *img.GeneratedAltText}); err != nil {
				f.Close()
				return fmt.Errorf("write review file: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write review file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write review file: %w", err)
	}
	return nil
}

// ReadReviewCSV parses a human-edited review file back into a correction
// set keyed by image reference. Every row must have exactly two fields and
// well-formed quoting; malformed rows are collected and reported together
// in a single error so the user can fix the whole file in one pass. Alt
// text values are HTML-escaped on the way in, matching what generation
// would have produced.
func ReadReviewCSV(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open review file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2

	updates := make(map[string]string)
	var errs error
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		updates[rec[0]] = html.EscapeString(rec[1])
	}
	if errs != nil {
		return nil, fmt.Errorf("review file %s: %w", path, errs)
	}
	return updates, nil
}

// Merge applies a correction set to the chapter graph. Only images whose
// reference string matches a key are updated; unmatched keys are ignored
// since they may belong to chapters skipped in this run. Returns the number
// of images updated.
func Merge(chapters []*book.Chapter, updates map[string]string) int {
	applied := 0
	for _, ch := range chapters {
		for _, img := range ch.Images {
			if text, ok := updates[img.Src]; ok {
				img.SetGenerated(text)
				applied++
			}
		}
	}
	return applied
}
