package markup

import (
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/book"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/images"
)

// LocateOptions carries the per-chapter inputs for image scanning.
type LocateOptions struct {
	ChapterPath     string
	ProjectRoot     string
	SkipExistingAlt bool
	Allowlist       []string // exact image file names; nil disables filtering
	SupportedExts   []string
	Log             *slog.Logger
}

// LocateImages walks the parsed chapter tree in document order and returns
// an Image record for every reference that survives filtering, each bound
// to its first unconsumed literal source fragment. Filtered and unbindable
// references are skipped with a diagnostic, never an error.
func LocateImages(doc *html.Node, literals *LiteralMap, opts LocateOptions) []*book.Image {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	nodes := documentOrder(doc)
	index := make(map[*html.Node]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}

	var out []*book.Image
	for _, n := range nodes {
		if n.Type != html.ElementNode || n.Data != "img" {
			continue
		}
		src, _ := attr(n, "src")
		if src == "" {
			continue
		}
		if strings.Contains(src, "callouts/") {
			// Callout glyphs annotate code listings; they are not content.
			continue
		}
		if !images.IsLocalRelativeRef(src) {
			log.Warn("image reference is not a local relative path, skipping",
				"src", src, "chapter", opts.ChapterPath)
			continue
		}
		resolved, ok := images.Resolve(opts.ProjectRoot, src)
		if !ok {
			log.Warn("referenced image file not found, skipping",
				"src", src, "chapter", opts.ChapterPath)
			continue
		}
		if opts.Allowlist != nil && !containsName(opts.Allowlist, filepath.Base(resolved)) {
			log.Debug("image not in filter list, skipping", "src", src)
			continue
		}
		if !images.SupportedExt(resolved, opts.SupportedExts) {
			log.Debug("unsupported image extension, skipping", "src", src)
			continue
		}
		alt, _ := attr(n, "alt")
		if opts.SkipExistingAlt && strings.TrimSpace(alt) != "" {
			log.Debug("image already has alt text, skipping", "src", src)
			continue
		}

		frag, ok := literals.Next(src)
		if !ok {
			log.Warn("no literal source fragment found for image, skipping",
				"src", src, "chapter", opts.ChapterPath)
			continue
		}

		img := &book.Image{
			ChapterFilepath: opts.ChapterPath,
			OriginalElem:    frag,
			Src:             src,
			ResolvedPath:    resolved,
			OriginalAltText: alt,
		}
		img.PrecedingParaText, img.SucceedingParaText, img.CaptionText = extractContext(n, nodes, index)
		out = append(out, img)
	}
	return out
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// extractContext pulls the nearest surrounding paragraphs and any caption
// for an image node. An image grouped in a figure anchors the paragraph
// search at the figure and takes its caption from the figure's dedicated
// caption element. Converted asciidoc wraps images differently, in a
// content block whose next sibling is a title block; that title wins as the
// caption when present.
func extractContext(img *html.Node, nodes []*html.Node, index map[*html.Node]int) (prev, next, caption string) {
	anchor := img
	if fig := img.Parent; fig != nil && fig.Type == html.ElementNode && fig.Data == "figure" {
		anchor = fig
		if c := findDescendant(fig, "figcaption", "caption"); c != nil {
			caption = textContent(c)
		}
	}

	idx := index[anchor]
	if p := prevElement(nodes, idx, "p"); p != nil {
		prev = textContent(p)
	}
	if p := nextElement(nodes, idx, "p"); p != nil {
		next = textContent(p)
	}

	if par := img.Parent; par != nil && par.Type == html.ElementNode && par.Data == "div" && hasClass(par, "content") {
		if sib := nextNonBlankSibling(par); sib != nil && sib.Type == html.ElementNode && sib.Data == "div" && hasClass(sib, "title") {
			caption = textContent(sib)
		}
	}
	return prev, next, caption
}
