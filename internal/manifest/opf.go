package manifest

import (
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/beevik/etree"
)

// loadOPF reads an EPUB package document and returns the spine-ordered
// chapter document paths, resolved against the OPF's directory. Only
// manifest items with an XHTML media type participate.
func loadOPF(path string) ([]string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("read package document: %w", err)
	}
	pkg := doc.Root()
	if pkg == nil || pkg.Tag != "package" {
		return nil, fmt.Errorf("%s: not an OPF package document", path)
	}

	man := pkg.FindElement("manifest")
	if man == nil {
		return nil, fmt.Errorf("%s: package document has no manifest", path)
	}
	hrefs := make(map[string]string)
	for _, item := range man.FindElements("item") {
		id := item.SelectAttrValue("id", "")
		href := item.SelectAttrValue("href", "")
		media := item.SelectAttrValue("media-type", "")
		if id == "" || href == "" {
			continue
		}
		if media == "application/xhtml+xml" || media == "text/html" {
			hrefs[id] = href
		}
	}

	spine := pkg.FindElement("spine")
	if spine == nil {
		return nil, fmt.Errorf("%s: package document has no spine", path)
	}
	root := filepath.Dir(path)
	var files []string
	for _, ref := range spine.FindElements("itemref") {
		href, ok := hrefs[ref.SelectAttrValue("idref", "")]
		if !ok {
			continue
		}
		// hrefs are IRIs and may carry percent escapes.
		if u, err := url.PathUnescape(href); err == nil {
			href = u
		}
		files = append(files, filepath.Join(root, filepath.FromSlash(href)))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: spine references no chapter documents", path)
	}
	return files, nil
}
