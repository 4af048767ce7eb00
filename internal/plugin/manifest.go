package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const manifestFilename = "manifest.yaml"

// Manifest is the optional descriptor at the root of a plugin directory.
type Manifest struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Plugin is a directory under <shared>/plugins that may contribute Python
// packages to pipeline scripts.
type Plugin struct {
	Name        string
	Version     string
	Description string
	Path        string
	// SitePackages is empty when the plugin has no site-packages directory.
	SitePackages string
}

// readManifest returns the manifest of pluginPath, or nil if it has none.
func readManifest(pluginPath string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(pluginPath, manifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	m.Name = strings.TrimSpace(m.Name)
	if strings.ContainsAny(m.Name, `/\`) {
		return nil, fmt.Errorf("invalid plugin name %q", m.Name)
	}
	return &m, nil
}
