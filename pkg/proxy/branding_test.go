package proxy

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBrandingAsset(t *testing.T) {
	raw := []byte("\x89PNG\r\n fake logo")
	path := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	asset := LoadBrandingAsset(path, slog.Default())

	assert.False(t, asset.Empty())
	assert.Equal(t, len(raw), asset.Size())
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(raw), asset.DataURI())
}

func TestLoadBrandingAsset_Missing(t *testing.T) {
	asset := LoadBrandingAsset(filepath.Join(t.TempDir(), "absent.png"), slog.Default())

	assert.True(t, asset.Empty())
	assert.Empty(t, asset.DataURI())
	assert.Zero(t, asset.Size())
}

func TestAssetMediaType(t *testing.T) {
	assert.Equal(t, "image/png", assetMediaType("assets/logo.png"))
	assert.Equal(t, "image/jpeg", assetMediaType("logo.JPG"))
	assert.Equal(t, "image/svg+xml", assetMediaType("brand.svg"))
	assert.Equal(t, "image/png", assetMediaType("logo.unknown"))
}
