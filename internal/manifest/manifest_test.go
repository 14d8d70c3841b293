package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadAtlas(t *testing.T) {
	dir := t.TempDir()
	atlas := filepath.Join(dir, "atlas.json")
	content := `{"files": ["ch01.html", "ch02.asciidoc"], "title": "Example Book"}`
	if err := os.WriteFile(atlas, []byte(content), 0o644); err != nil {
		t.Fatalf("write atlas: %v", err)
	}

	files, err := Load(atlas)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0] != filepath.Join(dir, "ch01.html") {
		t.Errorf("files[0] = %q, want path under manifest dir", files[0])
	}
	if files[1] != filepath.Join(dir, "ch02.asciidoc") {
		t.Errorf("files[1] = %q, want path under manifest dir", files[1])
	}
}

func TestLoadAtlasEmpty(t *testing.T) {
	dir := t.TempDir()
	atlas := filepath.Join(dir, "atlas.json")
	if err := os.WriteFile(atlas, []byte(`{"files": []}`), 0o644); err != nil {
		t.Fatalf("write atlas: %v", err)
	}
	if _, err := Load(atlas); err == nil {
		t.Fatal("expected error for manifest with no chapter files")
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	if _, err := Load("book.toml"); err == nil {
		t.Fatal("expected error for unsupported manifest type")
	}
}

func TestLoadOPF(t *testing.T) {
	dir := t.TempDir()
	opf := filepath.Join(dir, "content.opf")
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata><dc:title xmlns:dc="http://purl.org/dc/elements/1.1/">Example</dc:title></metadata>
  <manifest>
    <item id="cover" href="cover.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch1" href="text/ch%201.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
    <item id="img1" href="images/fig1.png" media-type="image/png"/>
  </manifest>
  <spine>
    <itemref idref="cover"/>
    <itemref idref="ch2"/>
    <itemref idref="ch1"/>
  </spine>
</package>`
	if err := os.WriteFile(opf, []byte(doc), 0o644); err != nil {
		t.Fatalf("write opf: %v", err)
	}

	files, err := Load(opf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d files, want 3: %v", len(files), files)
	}
	// Spine order wins over manifest order.
	if !strings.HasSuffix(files[1], filepath.Join("text", "ch2.xhtml")) {
		t.Errorf("files[1] = %q, want text/ch2.xhtml second per spine order", files[1])
	}
	// Percent escapes in hrefs are decoded.
	if !strings.HasSuffix(files[2], filepath.Join("text", "ch 1.xhtml")) {
		t.Errorf("files[2] = %q, want unescaped href", files[2])
	}
}

func TestLoadOPFNoChapters(t *testing.T) {
	dir := t.TempDir()
	opf := filepath.Join(dir, "content.opf")
	doc := `<package xmlns="http://www.idpf.org/2007/opf">
  <manifest><item id="css" href="style.css" media-type="text/css"/></manifest>
  <spine><itemref idref="css"/></spine>
</package>`
	if err := os.WriteFile(opf, []byte(doc), 0o644); err != nil {
		t.Fatalf("write opf: %v", err)
	}
	if _, err := Load(opf); err == nil {
		t.Fatal("expected error for spine without chapter documents")
	}
}
