// Package plugin discovers the plugins installed in the shared directory.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	pluginsDirName      = "plugins"
	sitePackagesDirName = "site-packages"
)

// Registry holds discovered plugins indexed by name.
type Registry struct {
	plugins map[string]*Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*Plugin),
	}
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (*Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// All returns all registered plugins.
func (r *Registry) All() map[string]*Plugin {
	return r.plugins
}

// Add registers a plugin in the registry.
func (r *Registry) Add(plugin *Plugin) error {
	if _, exists := r.plugins[plugin.Name]; exists {
		return fmt.Errorf("plugin %q already registered", plugin.Name)
	}
	r.plugins[plugin.Name] = plugin
	return nil
}

// SitePackages returns the site-packages directories of all plugins, sorted by
// plugin name so the search path is stable between runs.
func (r *Registry) SitePackages() []string {
	names := make([]string, 0, len(r.plugins))
	for name, p := range r.plugins {
		if p.SitePackages != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, r.plugins[name].SitePackages)
	}
	return paths
}

// Discover scans <sharedDir>/plugins. A missing plugins directory yields an
// empty registry. Plugins with an unreadable manifest are reported through
// logger and skipped.
func Discover(sharedDir string, logger func(level, msg string, args ...any)) (*Registry, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}
	registry := NewRegistry()
	if sharedDir == "" {
		return registry, nil
	}

	root, err := filepath.Abs(filepath.Join(sharedDir, pluginsDirName))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plugin root: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return registry, nil
		}
		return nil, fmt.Errorf("failed to scan plugin root %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginPath := filepath.Join(root, entry.Name())

		plugin, err := loadPlugin(entry.Name(), pluginPath)
		if err != nil {
			logger("warn", "failed to load plugin", "path", pluginPath, "error", err.Error())
			continue
		}

		if err := registry.Add(plugin); err != nil {
			existing, _ := registry.Get(plugin.Name)
			logger("warn", "duplicate plugin ignored (keeping first discovered)",
				"plugin", plugin.Name,
				"ignored_path", plugin.Path,
				"kept_path", existing.Path,
			)
			continue
		}

		logger("debug", "loaded plugin", "plugin", plugin.Name, "path", plugin.Path, "site_packages", plugin.SitePackages)
	}

	return registry, nil
}

func loadPlugin(dirName, pluginPath string) (*Plugin, error) {
	p := &Plugin{Name: dirName, Path: pluginPath}

	manifest, err := readManifest(pluginPath)
	if err != nil {
		return nil, err
	}
	if manifest != nil {
		if manifest.Name != "" {
			p.Name = manifest.Name
		}
		p.Version = manifest.Version
		p.Description = manifest.Description
	}

	sitePackages := filepath.Join(pluginPath, sitePackagesDirName)
	info, err := os.Stat(sitePackages)
	switch {
	case err == nil && info.IsDir():
		p.SitePackages = sitePackages
	case err != nil && !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to stat %s: %w", sitePackages, err)
	}

	return p, nil
}
