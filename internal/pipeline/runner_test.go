package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/book"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/config"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/markup"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/vision"
)

type fakeGenerator struct {
	calls int
	fail  int // fail the first N calls
	err   error
}

func (g *fakeGenerator) GenerateAltText(ctx context.Context, img *book.Image, dataURI string) (string, error) {
	g.calls++
	if g.calls <= g.fail {
		return "", g.err
	}
	return "ALT for " + img.Src, nil
}

type fakeConverter struct {
	out string
	err error
}

func (c fakeConverter) Convert(ctx context.Context, source string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.out, nil
}

func newTestRunner(gen vision.Generator, conv map[book.Format]markup.Converter) *Runner {
	return NewRunner(gen, conv, config.Default(), slog.New(slog.DiscardHandler))
}

func writeImage(t *testing.T, dir, name string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
}

func writeChapter(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chapter: %v", err)
	}
	return path
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "images"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeImage(t, filepath.Join(dir, "images"), "dog.png")
	writeImage(t, filepath.Join(dir, "images"), "cat.png")

	chapter := writeChapter(t, dir, "chapter.html", `<html><body>
<p>Intro.</p>
<img src="images/dog.png" alt="">
<img src="images/cat.png" alt="Existing">
</body></html>
`)

	gen := &fakeGenerator{}
	r := newTestRunner(gen, nil)

	err := r.Run(context.Background(), Options{
		ProjectDir:   dir,
		ChapterPaths: []string{chapter},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	content, err := os.ReadFile(chapter)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), `src="images/dog.png" alt="ALT for images/dog.png"`) {
		t.Errorf("dog.png alt not replaced:\n%s", content)
	}
	if !strings.Contains(string(content), `src="images/cat.png" alt="ALT for images/cat.png"`) {
		t.Errorf("existing alt not replaced by default:\n%s", content)
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want 2", gen.calls)
	}

	backups, _ := filepath.Glob(filepath.Join(dir, "backup_*.json"))
	if len(backups) == 0 {
		t.Error("no backup snapshot written")
	}
	reviews, _ := filepath.Glob(filepath.Join(dir, "review_*.csv"))
	if len(reviews) == 0 {
		t.Fatal("no review file written")
	}
	f, err := os.Open(reviews[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse review file: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("review rows = %d, want 2", len(rows))
	}
}

func TestRun_SkipExistingAlt(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "images"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeImage(t, filepath.Join(dir, "images"), "existing.png")
	writeImage(t, filepath.Join(dir, "images"), "missing.png")

	chapter := writeChapter(t, dir, "chapter.html", `<html><body>
<img src="images/existing.png" alt="Existing alt text">
<img src="images/missing.png" alt="">
</body></html>
`)

	gen := &fakeGenerator{}
	r := newTestRunner(gen, nil)

	err := r.Run(context.Background(), Options{
		ProjectDir:      dir,
		ChapterPaths:    []string{chapter},
		SkipExistingAlt: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	content, err := os.ReadFile(chapter)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), `src="images/existing.png" alt="Existing alt text"`) {
		t.Errorf("existing alt text should be untouched:\n%s", content)
	}
	if !strings.Contains(string(content), `src="images/missing.png" alt="ALT for images/missing.png"`) {
		t.Errorf("missing alt text should be filled in:\n%s", content)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
}

func TestRun_ResumeSession(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "images"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeImage(t, filepath.Join(dir, "images"), "img1.png")
	writeImage(t, filepath.Join(dir, "images"), "img2.png")

	chapter := writeChapter(t, dir, "chapter1.html", `<html><body>
<img src="images/img1.png" alt="">
<img src="images/img2.png" alt="">
</body></html>
`)

	done := "Already generated alt text"
	sessionChapters := []*book.Chapter{{
		Filepath: chapter,
		Format:   book.FormatHTML,
		Images: []*book.Image{
			{
				ChapterFilepath:  chapter,
				OriginalElem:     `<img src="images/img1.png" alt="">`,
				Src:              "images/img1.png",
				ResolvedPath:     filepath.Join(dir, "images", "img1.png"),
				GeneratedAltText: &done,
			},
			{
				ChapterFilepath: chapter,
				OriginalElem:    `<img src="images/img2.png" alt="">`,
				Src:             "images/img2.png",
				ResolvedPath:    filepath.Join(dir, "images", "img2.png"),
			},
		},
	}}

	gen := &fakeGenerator{}
	r := newTestRunner(gen, nil)

	err := r.Run(context.Background(), Options{
		ProjectDir: dir,
		Session:    sessionChapters,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	content, err := os.ReadFile(chapter)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), `src="images/img1.png" alt="Already generated alt text"`) {
		t.Errorf("previously generated text should be applied as is:\n%s", content)
	}
	if !strings.Contains(string(content), `src="images/img2.png" alt="ALT for images/img2.png"`) {
		t.Errorf("pending image should be generated:\n%s", content)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1 (only the pending image)", gen.calls)
	}
}

func TestRun_Corrections(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "images"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"dog.png", "cat.png", "ignored.png"} {
		writeImage(t, filepath.Join(dir, "images"), name)
	}

	chapter := writeChapter(t, dir, "chapter.html", `<html><body>
<img src="images/dog.png" alt="">
<img src="images/cat.png" alt="">
<img src="images/ignored.png" alt="">
</body></html>
`)

	gen := &fakeGenerator{}
	r := newTestRunner(gen, nil)

	err := r.Run(context.Background(), Options{
		ProjectDir:   dir,
		ChapterPaths: []string{chapter},
		Corrections: map[string]string{
			"images/dog.png": "A happy dog.",
			"images/cat.png": "A lazy cat.",
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("correction runs must not call the generator, got %d calls", gen.calls)
	}

	content, err := os.ReadFile(chapter)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), `src="images/dog.png" alt="A happy dog."`) {
		t.Errorf("dog.png not updated:\n%s", content)
	}
	if !strings.Contains(string(content), `src="images/cat.png" alt="A lazy cat."`) {
		t.Errorf("cat.png not updated:\n%s", content)
	}
	if !strings.Contains(string(content), `src="images/ignored.png" alt=""`) {
		t.Errorf("ignored.png should be unchanged:\n%s", content)
	}

	reviews, _ := filepath.Glob(filepath.Join(dir, "review_*.csv"))
	if len(reviews) == 0 {
		t.Error("no review file written")
	}
	backups, _ := filepath.Glob(filepath.Join(dir, "backup_*.json"))
	if len(backups) == 0 {
		t.Error("no backup snapshot written")
	}
}

func TestRun_DryRun(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "images"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeImage(t, filepath.Join(dir, "images"), "dog.png")

	original := `<html><body><img src="images/dog.png" alt=""></body></html>`
	chapter := writeChapter(t, dir, "chapter.html", original)

	gen := &fakeGenerator{}
	r := newTestRunner(gen, nil)

	err := r.Run(context.Background(), Options{
		ProjectDir:   dir,
		ChapterPaths: []string{chapter},
		DryRun:       true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("dry run must not call the generator, got %d calls", gen.calls)
	}

	content, err := os.ReadFile(chapter)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != original {
		t.Error("dry run modified the chapter file")
	}
	backups, _ := filepath.Glob(filepath.Join(dir, "backup_*.json"))
	if len(backups) != 0 {
		t.Error("dry run wrote a snapshot")
	}
}

func TestCollect_SkipsConfiguredFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "images"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeImage(t, filepath.Join(dir, "images"), "dog.png")

	cover := writeChapter(t, dir, "cover.html", `<img src="images/dog.png" alt="">`)
	chapter := writeChapter(t, dir, "ch01.html", `<img src="images/dog.png" alt="">`)

	r := newTestRunner(&fakeGenerator{}, nil)
	chapters, err := r.Collect(context.Background(), Options{
		ProjectDir:   dir,
		ChapterPaths: []string{cover, chapter},
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(chapters) != 1 {
		t.Fatalf("chapters = %d, want 1", len(chapters))
	}
	if chapters[0].Filepath != chapter {
		t.Errorf("collected %q, want %q", chapters[0].Filepath, chapter)
	}
}

func TestCollect_ConvertsAsciidoc(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "images"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeImage(t, filepath.Join(dir, "images"), "flow.png")

	adoc := "Intro paragraph.\n\n.The flow\nimage::images/flow.png[]\n"
	chapter := writeChapter(t, dir, "ch01.adoc", adoc)

	converted := `<div class="paragraph"><p>Intro paragraph.</p></div>
<div class="imageblock">
<div class="content"><img src="images/flow.png" alt="flow"></div>
<div class="title">Figure 1. The flow</div>
</div>`

	conv := map[book.Format]markup.Converter{
		book.FormatAsciidoc: fakeConverter{out: converted},
	}
	r := newTestRunner(&fakeGenerator{}, conv)

	chapters, err := r.Collect(context.Background(), Options{
		ProjectDir:   dir,
		ChapterPaths: []string{chapter},
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(chapters) != 1 || len(chapters[0].Images) != 1 {
		t.Fatalf("unexpected collection result: %+v", chapters)
	}

	img := chapters[0].Images[0]
	if img.OriginalElem != "image::images/flow.png[]" {
		t.Errorf("literal fragment = %q, want the raw asciidoc directive", img.OriginalElem)
	}
	if img.CaptionText != "Figure 1. The flow" {
		t.Errorf("caption = %q", img.CaptionText)
	}
	if img.PrecedingParaText != "Intro paragraph." {
		t.Errorf("preceding = %q", img.PrecedingParaText)
	}
}

func TestCollect_ConversionFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	chapter := writeChapter(t, dir, "ch01.adoc", "image::images/x.png[]\n")

	conv := map[book.Format]markup.Converter{
		book.FormatAsciidoc: fakeConverter{err: errors.New("converter exploded")},
	}
	r := newTestRunner(&fakeGenerator{}, conv)

	_, err := r.Collect(context.Background(), Options{
		ProjectDir:   dir,
		ChapterPaths: []string{chapter},
	})
	if err == nil || !strings.Contains(err.Error(), "convert") {
		t.Errorf("want conversion error, got %v", err)
	}
}

func TestCollect_MissingConverter(t *testing.T) {
	dir := t.TempDir()
	chapter := writeChapter(t, dir, "ch01.adoc", "image::images/x.png[]\n")

	r := newTestRunner(&fakeGenerator{}, nil)
	_, err := r.Collect(context.Background(), Options{
		ProjectDir:   dir,
		ChapterPaths: []string{chapter},
	})
	if err == nil || !strings.Contains(err.Error(), "no converter") {
		t.Errorf("want missing-converter error, got %v", err)
	}
}

func TestGenerateAll_RetriesRetryableErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "images"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeImage(t, filepath.Join(dir, "images"), "dog.png")

	chapter := writeChapter(t, dir, "chapter.html", `<img src="images/dog.png" alt="">`)

	gen := &fakeGenerator{fail: 1, err: &vision.RetryableError{StatusCode: 429, Message: "slow down"}}
	r := newTestRunner(gen, nil)

	chapters, err := r.Collect(context.Background(), Options{ProjectDir: dir, ChapterPaths: []string{chapter}})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	snapshot := filepath.Join(dir, "backup_test.json")
	if err := r.GenerateAll(context.Background(), chapters, snapshot); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want 2 (one failure, one retry)", gen.calls)
	}
	if !chapters[0].Images[0].Generated() {
		t.Error("image not generated after retry")
	}
	if _, err := os.Stat(snapshot); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}
}

func TestGenerateAll_NonRetryableErrorAborts(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "images"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeImage(t, filepath.Join(dir, "images"), "dog.png")

	chapter := writeChapter(t, dir, "chapter.html", `<img src="images/dog.png" alt="">`)

	gen := &fakeGenerator{fail: 10, err: errors.New("invalid request")}
	r := newTestRunner(gen, nil)

	chapters, err := r.Collect(context.Background(), Options{ProjectDir: dir, ChapterPaths: []string{chapter}})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	err = r.GenerateAll(context.Background(), chapters, filepath.Join(dir, "backup_test.json"))
	if err == nil {
		t.Fatal("want error from non-retryable failure")
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1 (no retries)", gen.calls)
	}
}

func TestRun_SessionAndCorrectionsConflict(t *testing.T) {
	r := newTestRunner(&fakeGenerator{}, nil)
	err := r.Run(context.Background(), Options{
		ProjectDir:  t.TempDir(),
		Session:     []*book.Chapter{{Filepath: "x.html", Format: book.FormatHTML}},
		Corrections: map[string]string{"a.png": "A"},
	})
	if err == nil {
		t.Error("want error when both a session and corrections are supplied")
	}
}
