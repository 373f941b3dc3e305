// Package packageconfig reads the per-package configuration stored in
// source repositories.
package packageconfig

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	syncerrors "distsync.dev/distsync/internal/errors"
)

// DefaultDistributionDir holds the packaging files inside a source repository
const DefaultDistributionDir = ".distro"

// FallbackPath is tried when the configured path does not exist
const FallbackPath = ".packit.yaml"

// SyncedFiles describes a directory mirrored between the repositories.
// Filters use the "protect <glob>" and "exclude <glob>" forms.
type SyncedFiles struct {
	Src     string   `yaml:"src"`
	Dest    string   `yaml:"dest"`
	Delete  bool     `yaml:"delete,omitempty"`
	Filters []string `yaml:"filters,omitempty"`
}

// PackageConfig is the subset of the package configuration distsync uses
type PackageConfig struct {
	UpstreamProjectURL         string        `yaml:"upstream_project_url,omitempty"`
	UpstreamRef                string        `yaml:"upstream_ref,omitempty"`
	DownstreamPackageName      string        `yaml:"downstream_package_name,omitempty"`
	SpecfilePath               string        `yaml:"specfile_path,omitempty"`
	PatchGenerationIgnorePaths []string      `yaml:"patch_generation_ignore_paths,omitempty"`
	SyncChangelog              bool          `yaml:"sync_changelog,omitempty"`
	SyncedFiles                []SyncedFiles `yaml:"synced_files,omitempty"`

	// Path the configuration was read from
	Path string `yaml:"-"`
}

// Parse decodes a package configuration
func Parse(data []byte) (*PackageConfig, error) {
	var config PackageConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, syncerrors.Configurationf("invalid package config: %v", err)
	}
	return &config, nil
}

// FileFetcher reads a file from a repository at a ref
type FileFetcher interface {
	FileContent(ctx context.Context, path, ref string) ([]byte, error)
}

// Load reads the first configuration found among paths (then FallbackPath)
// at ref. It returns nil when none exists.
func Load(ctx context.Context, fetcher FileFetcher, ref string, paths ...string) (*PackageConfig, error) {
	candidates := append([]string{}, paths...)
	candidates = append(candidates, FallbackPath)

	seen := make(map[string]bool)
	for _, candidate := range candidates {
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true

		data, err := fetcher.FileContent(ctx, candidate, ref)
		if errors.Is(err, syncerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", candidate, err)
		}

		config, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", candidate, err)
		}
		config.Path = candidate
		return config, nil
	}
	return nil, nil
}

// DistributionDir returns the directory of the source repository that is
// mirrored into the distribution repository root
func (c *PackageConfig) DistributionDir() string {
	for _, synced := range c.SyncedFiles {
		if strings.Trim(synced.Dest, "/") == "." || synced.Dest == "" {
			if dir := strings.Trim(synced.Src, "/"); dir != "" && dir != "." {
				return dir
			}
		}
	}
	return DefaultDistributionDir
}

// Protected returns the patterns that must survive a mirror in the destination
func (c *PackageConfig) Protected() []string {
	return c.filters("protect", ".git*", "sources")
}

// Excluded returns the patterns that are never copied
func (c *PackageConfig) Excluded() []string {
	excluded := c.filters("exclude")
	if c.Path != "" && !slices.Contains(excluded, path.Base(c.Path)) {
		excluded = append(excluded, path.Base(c.Path))
	}
	return excluded
}

func (c *PackageConfig) filters(kind string, defaults ...string) []string {
	var patterns []string
	found := false
	for _, synced := range c.SyncedFiles {
		for _, filter := range synced.Filters {
			fields := strings.Fields(filter)
			if len(fields) == 2 && fields[0] == kind {
				patterns = append(patterns, fields[1])
				found = true
			}
		}
	}
	if !found {
		return append(patterns, defaults...)
	}
	return patterns
}
