package markup

import (
	"regexp"
	"sort"

	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/book"
)

// Literal image reference patterns per dialect. These run over the raw
// chapter text, not the parsed tree: the parser normalizes attribute order,
// quoting and self-closing slashes, so its re-rendering of an element is
// not guaranteed to be a substring of the file. Replacement must operate on
// the exact source bytes.
var (
	imgTagRe    = regexp.MustCompile(`(?is)<img\b[^>]*>`)
	adocImageRe = regexp.MustCompile(`image::([^\[\s]+)\[[^\]]*\]`)
	mdImageRe   = regexp.MustCompile(`!\[[^\]]*\]\(\s*([^)\s]+)(?:\s+"[^"]*")?\s*\)`)

	srcAttrRe = regexp.MustCompile(`(?is)\bsrc\s*=\s*("([^"]*)"|'([^']*)'|([^\s>"']+))`)
	altAttrRe = regexp.MustCompile(`(?is)\balt\s*=\s*("[^"]*"|'[^']*'|[^\s>"']+)`)
)

// LiteralMap maps an image reference string to the literal source fragments
// mentioning it, in order of appearance. Fragments are consumed first match
// first, so a reference repeated within a chapter binds to its occurrences
// in document order.
type LiteralMap struct {
	fragments map[string][]string
	consumed  map[string]int
}

// Next returns the first unconsumed fragment for src.
func (m *LiteralMap) Next(src string) (string, bool) {
	frags := m.fragments[src]
	i := m.consumed[src]
	if i >= len(frags) {
		return "", false
	}
	m.consumed[src]++
	return frags[i], true
}

func (m *LiteralMap) add(src, frag string) {
	m.fragments[src] = append(m.fragments[src], frag)
}

// ScanLiterals builds the literal map for one chapter. Markdown chapters
// mix native image syntax with inline HTML tags, so both patterns apply
// there, merged in order of appearance.
func ScanLiterals(content string, format book.Format) *LiteralMap {
	m := &LiteralMap{
		fragments: make(map[string][]string),
		consumed:  make(map[string]int),
	}
	switch format {
	case book.FormatAsciidoc:
		for _, g := range adocImageRe.FindAllStringSubmatch(content, -1) {
			m.add(g[1], g[0])
		}
	case book.FormatMarkdown:
		type hit struct {
			pos       int
			src, frag string
		}
		var hits []hit
		for _, loc := range mdImageRe.FindAllStringSubmatchIndex(content, -1) {
			hits = append(hits, hit{
				pos:  loc[0],
				src:  content[loc[2]:loc[3]],
				frag: content[loc[0]:loc[1]],
			})
		}
		for _, loc := range imgTagRe.FindAllStringIndex(content, -1) {
			frag := content[loc[0]:loc[1]]
			if src, ok := tagAttr(frag, srcAttrRe); ok && src != "" {
				hits = append(hits, hit{pos: loc[0], src: src, frag: frag})
			}
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
		for _, h := range hits {
			m.add(h.src, h.frag)
		}
	default:
		for _, frag := range imgTagRe.FindAllString(content, -1) {
			if src, ok := tagAttr(frag, srcAttrRe); ok && src != "" {
				m.add(src, frag)
			}
		}
	}
	return m
}

// tagAttr extracts a quoted or bare attribute value from a raw tag using
// one of the attribute patterns above.
func tagAttr(frag string, re *regexp.Regexp) (string, bool) {
	g := re.FindStringSubmatch(frag)
	if g == nil {
		return "", false
	}
	for _, v := range g[2:] {
		if v != "" {
			return v, true
		}
	}
	return "", true
}
