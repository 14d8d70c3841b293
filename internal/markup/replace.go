package markup

import (
	"strings"

	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/book"
)

// Replace applies generated alt text to chapter content and returns the
// updated text. The input string is never mutated, so callers can diff or
// dry-run before committing anything to disk.
//
// Images without generated text are left untouched and unmarked. When
// replaceExisting is false, images that already carried alt text keep it.
// Each image's literal fragment is replaced at its first occurrence only,
// consistent with the binding order established during location, and
// AltTextReplaced is set only when the fragment was actually found.
func Replace(content string, imgs []*book.Image, replaceExisting bool) string {
	for _, img := range imgs {
		if !img.Generated() {
			continue
		}
		if !replaceExisting && img.OriginalAltText != "" {
			continue
		}
		frag := img.OriginalElem
		if frag == "" || !strings.Contains(content, frag) {
			continue
		}
		content = strings.Replace(content, frag, substituteAlt(frag, *img.GeneratedAltText), 1)
		img.AltTextReplaced = true
	}
	return content
}

// substituteAlt rewrites the alt text inside one literal fragment, leaving
// every other byte as written. The fragment's own shape identifies its
// dialect.
func substituteAlt(frag, alt string) string {
	switch {
	case strings.HasPrefix(frag, "image::"):
		return substituteAdocAlt(frag, alt)
	case strings.HasPrefix(frag, "!["):
		return substituteMarkdownAlt(frag, alt)
	default:
		return substituteTagAlt(frag, alt)
	}
}

// substituteTagAlt swaps the value of an img tag's first alt attribute,
// keeping the original quote style, or inserts one before the tag close
// when the tag has no alt at all.
func substituteTagAlt(frag, alt string) string {
	if loc := altAttrRe.FindStringSubmatchIndex(frag); loc != nil {
		old := frag[loc[2]:loc[3]]
		quote := `"`
		if strings.HasPrefix(old, "'") {
			quote = "'"
		}
		return frag[:loc[2]] + quote + alt + quote + frag[loc[3]:]
	}
	insert := ` alt="` + alt + `"`
	if strings.HasSuffix(frag, "/>") {
		return strings.TrimRight(strings.TrimSuffix(frag, "/>"), " \t") + insert + " />"
	}
	if strings.HasSuffix(frag, ">") {
		return strings.TrimSuffix(frag, ">") + insert + ">"
	}
	return frag
}

// substituteAdocAlt replaces the first positional attribute of a block
// image macro, which asciidoc defines as the alt text. Remaining
// attributes (width, align and so on) are preserved.
func substituteAdocAlt(frag, alt string) string {
	open := strings.Index(frag, "[")
	if open < 0 || !strings.HasSuffix(frag, "]") {
		return frag
	}
	attrs := frag[open+1 : len(frag)-1]

	rest := ""
	if strings.HasPrefix(attrs, `"`) {
		// Quoted first positional; commas inside the quotes do not split.
		if end := strings.Index(attrs[1:], `"`); end >= 0 {
			rest = attrs[end+2:]
		}
	} else if i := strings.Index(attrs, ","); i >= 0 {
		rest = attrs[i:]
	}

	if strings.Contains(alt, ",") {
		alt = `"` + alt + `"`
	}
	return frag[:open+1] + alt + rest + "]"
}

// substituteMarkdownAlt replaces the bracketed alt text of a markdown image.
func substituteMarkdownAlt(frag, alt string) string {
	end := strings.Index(frag, "]")
	if end < 0 {
		return frag
	}
	alt = strings.ReplaceAll(alt, "[", `\[`)
	alt = strings.ReplaceAll(alt, "]", `\]`)
	return "![" + alt + frag[end:]
}
