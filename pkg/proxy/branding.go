package proxy

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// BrandingAsset holds the brand image loaded once at startup: the raw bytes
// and a data-URI encoding ready for inline embedding. It is read-only after
// construction and safe for unsynchronized concurrent reads.
type BrandingAsset struct {
	raw     []byte
	dataURI string
}

// LoadBrandingAsset reads the brand image from disk. A missing or unreadable
// file is non-fatal: the returned asset is empty and rewrite rules that
// depend on it become no-ops.
func LoadBrandingAsset(path string, logger *slog.Logger) *BrandingAsset {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path) //nolint:gosec // asset path is operator-controlled config
	if err != nil {
		logger.Warn("branding asset unavailable, logo substitution disabled",
			"path", path,
			"error", err,
		)
		return &BrandingAsset{}
	}

	return &BrandingAsset{
		raw:     data,
		dataURI: "data:" + assetMediaType(path) + ";base64," + base64.StdEncoding.EncodeToString(data),
	}
}

// Empty reports whether no asset was loaded.
func (a *BrandingAsset) Empty() bool {
	return len(a.raw) == 0
}

// DataURI returns the inline-embeddable encoding of the asset, or "" when
// the asset is empty.
func (a *BrandingAsset) DataURI() string {
	return a.dataURI
}

// Size returns the raw asset size in bytes.
func (a *BrandingAsset) Size() int {
	return len(a.raw)
}

func assetMediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
