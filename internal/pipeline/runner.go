// Package pipeline drives a full processing run: collect chapters named by
// the manifest, generate alt text for every located image, substitute it
// into the chapter files, and leave review and resume artifacts behind.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/book"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/config"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/images"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/markup"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/session"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/vision"
)

// Runner holds the injected collaborators for one or more runs. Processing
// is sequential: one chapter at a time, one image at a time, in document
// order.
type Runner struct {
	gen   vision.Generator
	conv  map[book.Format]markup.Converter
	cfg   config.Config
	log   *slog.Logger
	stats *vision.Stats
}

func NewRunner(gen vision.Generator, conv map[book.Format]markup.Converter, cfg config.Config, log *slog.Logger) *Runner {
	return &Runner{
		gen:   gen,
		conv:  conv,
		cfg:   cfg,
		log:   log,
		stats: vision.NewStats(),
	}
}

// Options selects what a run does. Chapter state comes from fresh
// collection of ChapterPaths unless Session carries a graph loaded from a
// snapshot. When Corrections is non-nil the generation step is replaced by
// a review-file merge.
type Options struct {
	ProjectDir      string
	ChapterPaths    []string
	SkipExistingAlt bool
	Allowlist       []string // exact image file names; nil disables filtering
	DryRun          bool
	Session         []*book.Chapter
	Corrections     map[string]string
}

// Run executes one full pass: collect (or resume), generate (or merge),
// replace, persist artifacts. Artifacts are written into ProjectDir with
// timestamped names so reruns never clobber earlier state.
func (r *Runner) Run(ctx context.Context, opts Options) error {
	if opts.Session != nil && opts.Corrections != nil {
		return fmt.Errorf("cannot resume a session and apply review corrections in the same run")
	}

	chapters := opts.Session
	if chapters == nil {
		var err error
		chapters, err = r.Collect(ctx, opts)
		if err != nil {
			return err
		}
	}

	total := 0
	for _, ch := range chapters {
		total += len(ch.Images)
	}
	if total == 0 {
		r.log.Info("no images to process")
		return nil
	}

	if opts.DryRun {
		r.report(chapters)
		return nil
	}

	ts := time.Now().Format("20060102150405")
	snapshotPath := filepath.Join(opts.ProjectDir, "backup_"+ts+".json")
	reviewPath := filepath.Join(opts.ProjectDir, "review_"+ts+".csv")

	if opts.Corrections != nil {
		applied := session.Merge(chapters, opts.Corrections)
		r.log.Info("applied review corrections", "updated", applied)
	} else {
		if err := r.GenerateAll(ctx, chapters, snapshotPath); err != nil {
			return err
		}
	}

	if err := r.ReplaceAll(chapters, !opts.SkipExistingAlt); err != nil {
		return err
	}

	if err := session.WriteReviewCSV(reviewPath, chapters); err != nil {
		return err
	}
	if err := session.WriteSnapshot(snapshotPath, chapters); err != nil {
		return err
	}
	r.log.Info("run complete",
		"chapters", len(chapters),
		"images", total,
		"review", reviewPath,
		"session", snapshotPath)
	return nil
}

// Collect reads, normalizes and scans every chapter file, returning one
// Chapter per file that yielded at least one eligible image. Conversion
// failures are fatal: silently skipping an unparseable chapter would
// produce a misleadingly incomplete result.
func (r *Runner) Collect(ctx context.Context, opts Options) ([]*book.Chapter, error) {
	var chapters []*book.Chapter
	for _, path := range opts.ChapterPaths {
		if r.skipFile(path) {
			r.log.Info("skipping chapter", "file", filepath.Base(path))
			continue
		}
		ch, err := r.collectChapter(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		if len(ch.Images) == 0 {
			r.log.Debug("no eligible images in chapter", "file", filepath.Base(path))
			continue
		}
		r.log.Debug("collected chapter", "file", filepath.Base(path), "images", len(ch.Images))
		chapters = append(chapters, ch)
	}
	return chapters, nil
}

func (r *Runner) skipFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, token := range r.cfg.SkipFiles {
		if token != "" && strings.Contains(base, strings.ToLower(token)) {
			return true
		}
	}
	return false
}

func (r *Runner) collectChapter(ctx context.Context, path string, opts Options) (*book.Chapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chapter: %w", err)
	}
	content := string(data)
	format := book.DetectFormat(path)

	htmlText := content
	if format != book.FormatHTML {
		conv, ok := r.conv[format]
		if !ok {
			return nil, fmt.Errorf("no converter configured for %s chapters", format)
		}
		htmlText, err = conv.Convert(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", filepath.Base(path), err)
		}
	}

	doc, err := markup.ParseHTML(htmlText)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	literals := markup.ScanLiterals(content, format)
	imgs := markup.LocateImages(doc, literals, markup.LocateOptions{
		ChapterPath:     path,
		ProjectRoot:     opts.ProjectDir,
		SkipExistingAlt: opts.SkipExistingAlt,
		Allowlist:       opts.Allowlist,
		SupportedExts:   images.DefaultSupportedExts,
		Log:             r.log,
	})

	return &book.Chapter{
		Filepath: path,
		Content:  content,
		Format:   format,
		Images:   imgs,
	}, nil
}

// GenerateAll fills in generated text for every image that does not have it
// yet, in document order across chapters. The snapshot is rewritten after
// every success, so an interrupted run loses at most the in-flight call and
// can be resumed from the snapshot.
func (r *Runner) GenerateAll(ctx context.Context, chapters []*book.Chapter, snapshotPath string) error {
	var pending []*book.Image
	total := 0
	for _, ch := range chapters {
		for _, img := range ch.Images {
			total++
			if !img.Generated() {
				pending = append(pending, img)
			}
		}
	}
	if done := total - len(pending); done > 0 {
		r.log.Info("resuming earlier session", "done", done, "remaining", len(pending))
	}

	done := total - len(pending)
	for _, img := range pending {
		done++
		r.log.Info("generating alt text", "image", done, "of", total, "src", img.Src)

		dataURI, err := images.DataURI(img.ResolvedPath, r.cfg.MaxImageDimension)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", img.Src, err)
		}

		text, err := r.generateWithRetry(ctx, img, dataURI)
		if err != nil {
			return fmt.Errorf("generate alt text for %s: %w", img.Src, err)
		}
		img.SetGenerated(text)

		if err := session.WriteSnapshot(snapshotPath, chapters); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}

	if snap := r.stats.Snapshot(); snap.Count > 0 {
		r.log.Info("generation latency",
			"calls", snap.Count,
			"avg", snap.Avg.Round(time.Millisecond),
			"p95", snap.P95.Round(time.Millisecond),
			"max", snap.Max.Round(time.Millisecond))
	}
	return nil
}

func (r *Runner) generateWithRetry(ctx context.Context, img *book.Image, dataURI string) (string, error) {
	var text string
	var lastErr error
	for attempt := range MaxRetries {
		start := time.Now()
		text, lastErr = r.gen.GenerateAltText(ctx, img, dataURI)
		if lastErr == nil {
			r.stats.Record(time.Since(start))
			break
		}
		if !IsRetryable(lastErr) {
			break
		}
		r.log.Warn("retryable generation error", "src", img.Src, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(Backoff(attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, lastErr
}

// ReplaceAll rewrites each chapter file with generated alt text substituted
// in. The file is re-read first so edits made between collection and
// replacement are not clobbered by the stale stored copy.
func (r *Runner) ReplaceAll(chapters []*book.Chapter, replaceExisting bool) error {
	for _, ch := range chapters {
		hasGenerated := false
		for _, img := range ch.Images {
			if img.Generated() {
				hasGenerated = true
				break
			}
		}
		if !hasGenerated {
			continue
		}

		data, err := os.ReadFile(ch.Filepath)
		if err != nil {
			return fmt.Errorf("reread chapter: %w", err)
		}

		updated := markup.Replace(string(data), ch.Images, replaceExisting)
		ch.Content = updated
		if updated == string(data) {
			r.log.Debug("no replacements made", "file", filepath.Base(ch.Filepath))
			continue
		}

		if err := os.WriteFile(ch.Filepath, []byte(updated), 0o644); err != nil {
			return fmt.Errorf("write chapter: %w", err)
		}

		replaced := 0
		for _, img := range ch.Images {
			if img.AltTextReplaced {
				replaced++
			}
		}
		r.log.Info("updated chapter", "file", filepath.Base(ch.Filepath), "replaced", replaced)
	}
	return nil
}

func (r *Runner) report(chapters []*book.Chapter) {
	total, pending := 0, 0
	for _, ch := range chapters {
		for _, img := range ch.Images {
			total++
			if !img.Generated() {
				pending++
			}
		}
		r.log.Info("chapter", "file", filepath.Base(ch.Filepath), "images", len(ch.Images))
	}
	r.log.Info("dry run complete", "images", total, "pending", pending)
}
