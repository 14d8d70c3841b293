package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads a project manifest and returns the chapter file paths it lists,
// resolved against the manifest's directory, in build order. Atlas project
// descriptors (.json) and EPUB package documents (.opf) are supported.
func Load(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return loadAtlas(path)
	case ".opf":
		return loadOPF(path)
	default:
		return nil, fmt.Errorf("unsupported manifest type %q (want .json or .opf)", filepath.Ext(path))
	}
}

// atlasManifest is the Atlas project descriptor. Only the files list matters
// here; every other key is ignored.
type atlasManifest struct {
	Files []string `json:"files"`
}

func loadAtlas(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m atlasManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("manifest %s lists no chapter files", path)
	}
	root := filepath.Dir(path)
	files := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, filepath.Join(root, filepath.FromSlash(f)))
	}
	return files, nil
}
