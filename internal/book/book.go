package book

import (
	"path/filepath"
	"strings"
)

// Format identifies the markup dialect of a chapter file.
type Format string

const (
	FormatHTML     Format = "html"
	FormatAsciidoc Format = "asciidoc"
	FormatMarkdown Format = "markdown"
)

// DetectFormat classifies a chapter file by its extension. HTML and Markdown
// are recognized directly; everything else is treated as asciidoc and handed
// to the external converter, which rejects unsupported input on its own.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".xhtml":
		return FormatHTML
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatAsciidoc
	}
}

// Chapter is one document unit of the book project. Content holds the full
// literal text of the file at load time; only the replacement step
// supersedes it.
type Chapter struct {
	Filepath string   `json:"filepath"`
	Content  string   `json:"content"`
	Format   Format   `json:"chapter_format"`
	Images   []*Image `json:"images"`
}

// Image is one located image reference within a chapter.
//
// OriginalElem is the exact source substring for the reference, not the
// parser's re-rendering of it. Replacement depends on it matching the
// chapter content byte for byte. GeneratedAltText is nil until generation
// completes, which is also what resumption keys on.
type Image struct {
	ChapterFilepath    string  `json:"chapter_filepath"`
	OriginalElem       string  `json:"original_img_elem_str"`
	Src                string  `json:"image_src"`
	ResolvedPath       string  `json:"image_filepath"`
	PrecedingParaText  string  `json:"preceding_para_text"`
	SucceedingParaText string  `json:"succeeding_para_text"`
	CaptionText        string  `json:"caption_text"`
	OriginalAltText    string  `json:"original_alt_text"`
	GeneratedAltText   *string `json:"generated_alt_text"`
	AltTextReplaced    bool    `json:"alt_text_replaced"`
}

// Generated reports whether alt text has been generated for this image.
func (img *Image) Generated() bool {
	return img.GeneratedAltText != nil
}

// SetGenerated stores generated alt text on the image.
func (img *Image) SetGenerated(text string) {
	img.GeneratedAltText = &text
}
