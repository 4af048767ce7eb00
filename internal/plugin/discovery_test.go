package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkPlugin(t *testing.T, shared, name string, withSitePackages bool, manifest string) string {
	t.Helper()
	dir := filepath.Join(shared, "plugins", name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if withSitePackages {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "site-packages"), 0o755))
	}
	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))
	}
	return dir
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name    string
		setupFn func(t *testing.T) string // Returns shared directory
		checkFn func(t *testing.T, reg *Registry)
	}{
		{
			name: "missing plugins dir",
			setupFn: func(t *testing.T) string {
				return t.TempDir()
			},
			checkFn: func(t *testing.T, reg *Registry) {
				assert.Empty(t, reg.All())
				assert.Empty(t, reg.SitePackages())
			},
		},
		{
			name: "site-packages discovered in name order",
			setupFn: func(t *testing.T) string {
				shared := t.TempDir()
				mkPlugin(t, shared, "zvision", true, "")
				mkPlugin(t, shared, "core", true, "")
				mkPlugin(t, shared, "docs", false, "")
				// Plain files are ignored.
				require.NoError(t, os.WriteFile(filepath.Join(shared, "plugins", "README"), nil, 0o644))
				return shared
			},
			checkFn: func(t *testing.T, reg *Registry) {
				assert.Len(t, reg.All(), 3)
				paths := reg.SitePackages()
				require.Len(t, paths, 2)
				assert.Contains(t, paths[0], filepath.Join("plugins", "core", "site-packages"))
				assert.Contains(t, paths[1], filepath.Join("plugins", "zvision", "site-packages"))

				docs, ok := reg.Get("docs")
				require.True(t, ok)
				assert.Empty(t, docs.SitePackages)
			},
		},
		{
			name: "manifest overrides name",
			setupFn: func(t *testing.T) string {
				shared := t.TempDir()
				mkPlugin(t, shared, "ml-2.1", true, "name: ml\nversion: 2.1.0\ndescription: classifiers\n")
				return shared
			},
			checkFn: func(t *testing.T, reg *Registry) {
				p, ok := reg.Get("ml")
				require.True(t, ok)
				assert.Equal(t, "2.1.0", p.Version)
				assert.Equal(t, "classifiers", p.Description)
			},
		},
		{
			name: "invalid manifest skipped, duplicate name kept once",
			setupFn: func(t *testing.T) string {
				shared := t.TempDir()
				mkPlugin(t, shared, "a", true, "name: [unclosed\n")
				mkPlugin(t, shared, "b", true, "name: shared\n")
				mkPlugin(t, shared, "c", true, "name: shared\n")
				return shared
			},
			checkFn: func(t *testing.T, reg *Registry) {
				assert.Len(t, reg.All(), 1)
				p, ok := reg.Get("shared")
				require.True(t, ok)
				assert.Equal(t, "b", filepath.Base(p.Path))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := Discover(tt.setupFn(t), nil)
			require.NoError(t, err)
			tt.checkFn(t, reg)
		})
	}
}

func TestDiscoverEmptySharedDir(t *testing.T) {
	reg, err := Discover("", nil)
	require.NoError(t, err)
	assert.Empty(t, reg.All())
}
