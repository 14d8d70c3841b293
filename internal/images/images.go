package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
)

// DefaultSupportedExts are the raster formats the generation service
// accepts as inline payloads.
var DefaultSupportedExts = []string{"png", "jpg", "jpeg", "gif", "webp"}

// IsLocalRelativeRef reports whether src is a plain relative path: no URI
// scheme, no network authority, and not rooted at the site root. Remote
// URLs, data URIs and root-absolute references all fail this check.
func IsLocalRelativeRef(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && !strings.HasPrefix(src, "/")
}

// Resolve joins root and src and returns the cleaned absolute path if it
// exists as a regular file. Absence is the failure signal; there is no
// error to distinguish missing from unreadable.
func Resolve(root, src string) (string, bool) {
	abs, err := filepath.Abs(filepath.Join(root, filepath.FromSlash(src)))
	if err != nil {
		return "", false
	}
	fi, err := os.Stat(abs)
	if err != nil || !fi.Mode().IsRegular() {
		return "", false
	}
	return abs, true
}

// SupportedExt reports whether path's extension is one of allowed.
// Comparison is case-insensitive; entries in allowed may carry a leading
// dot or not.
func SupportedExt(path string, allowed []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, a := range allowed {
		if ext == strings.TrimPrefix(strings.ToLower(a), ".") {
			return true
		}
	}
	return false
}

// mimeByExt is the fallback when magic-byte sniffing fails: SVG is plain
// XML with no magic bytes, and truncated or unusual raster files should
// still be typed by their extension rather than rejected.
var mimeByExt = map[string]string{
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

// DataURI reads the image at path and returns it as a base64 data URI for
// inline upload. Raster images whose longest side exceeds maxDim are
// downscaled first; maxDim <= 0 disables scaling. The MIME type comes from
// magic-byte detection, falling back to the extension, and an undetectable
// type is an error.
func DataURI(path string, maxDim int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	mime := ""
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		mime = kind.MIME.Value
	}
	if mime == "" {
		mime = mimeByExt[strings.ToLower(filepath.Ext(path))]
	}
	if mime == "" {
		return "", fmt.Errorf("cannot determine image type of %s", path)
	}

	if maxDim > 0 {
		if scaled, ok := downscale(data, mime, maxDim); ok {
			data = scaled
		}
	}

	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// downscale re-encodes the image with its longest side capped at maxDim,
// keeping the original format. ok is false when the data is not a raster
// format we can re-encode, cannot be decoded, or is already small enough;
// callers then send the original bytes.
func downscale(data []byte, mime string, maxDim int) ([]byte, bool) {
	var format imaging.Format
	switch mime {
	case "image/jpeg":
		format = imaging.JPEG
	case "image/png":
		format = imaging.PNG
	case "image/gif":
		format = imaging.GIF
	case "image/tiff":
		format = imaging.TIFF
	case "image/bmp":
		format = imaging.BMP
	default:
		return nil, false
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	b := src.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return nil, false
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Fit(src, maxDim, maxDim, imaging.Lanczos), format); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
