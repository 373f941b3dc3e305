// Package config provides the service configuration: a YAML file with
// environment overrides and getters that supply defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	syncerrors "distsync.dev/distsync/internal/errors"
)

// Forge backend types
const (
	ForgeTypeGitHub = "github"
	ForgeTypeGitLab = "gitlab"
	ForgeTypePagure = "pagure"
)

const (
	defaultListen            = ":8080"
	defaultWorkers           = 4
	defaultRetryLimit        = 2
	defaultRetryBackoff      = 3 * time.Second
	defaultSourceGitURL      = "https://gitlab.com/"
	defaultSourceGitToken    = "src"
	defaultDistGitToken      = "rpms"
	defaultPackageConfigPath = ".distro/source-git.yaml"
	defaultDatabase          = "distsync.db"
	defaultAuthorName        = "distsync"
	defaultAuthorEmail       = "distsync@localhost"
)

// MRTarget restricts which merge request targets are synchronized. Empty
// patterns match anything; patterns must match the whole value.
type MRTarget struct {
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
}

// ForgeInstance describes credentials and the backend for one forge host
type ForgeInstance struct {
	Hostname string `yaml:"hostname"`
	Type     string `yaml:"type"`
	Token    string `yaml:"token,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	// APIURL overrides the API endpoint (GitHub Enterprise, tests)
	APIURL string `yaml:"api_url,omitempty"`
}

// SourceGitConfig locates source repositories
type SourceGitConfig struct {
	BaseURL        string `yaml:"base_url,omitempty"`
	Namespace      string `yaml:"namespace,omitempty"`
	NamespaceToken string `yaml:"namespace_token,omitempty"`
}

// DistGitConfig locates distribution repositories. Empty BaseURL means
// the host of the source repository.
type DistGitConfig struct {
	BaseURL        string `yaml:"base_url,omitempty"`
	Namespace      string `yaml:"namespace,omitempty"`
	NamespaceToken string `yaml:"namespace_token,omitempty"`
}

// GitAuthor signs the commits made by the sync engine
type GitAuthor struct {
	Name  string `yaml:"name,omitempty"`
	Email string `yaml:"email,omitempty"`
}

// LogConfig configures the optional rotating log file
type LogConfig struct {
	File       string `yaml:"file,omitempty"`
	JSON       bool   `yaml:"json,omitempty"`
	MaxSize    int    `yaml:"max_size,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAge     int    `yaml:"max_age,omitempty"`
}

// Config represents the service configuration
type Config struct {
	Deployment        string          `yaml:"deployment,omitempty"`
	Listen            *string         `yaml:"listen,omitempty"`
	Database          string          `yaml:"database,omitempty"`
	WorkDir           string          `yaml:"work_dir,omitempty"`
	Workers           *int            `yaml:"workers,omitempty"`
	RetryLimit        *int            `yaml:"retry_limit,omitempty"`
	RetryBackoff      *time.Duration  `yaml:"retry_backoff,omitempty"`
	WebhookSecret     string          `yaml:"webhook_secret,omitempty"`
	PagureURL         string          `yaml:"pagure_url,omitempty"`
	SourceGit         SourceGitConfig `yaml:"sourcegit,omitempty"`
	DistGit           DistGitConfig   `yaml:"distgit,omitempty"`
	PackageConfigPath string          `yaml:"package_config_path,omitempty"`
	MRTargetsHandled  []MRTarget      `yaml:"mr_targets_handled,omitempty"`
	Forges            []ForgeInstance `yaml:"forges,omitempty"`
	GitAuthor         GitAuthor       `yaml:"git_author,omitempty"`
	Log               LogConfig       `yaml:"log,omitempty"`
}

// Load reads the configuration file at path and applies environment
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv applies the environment overrides
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SOURCEGIT_URL"); v != "" {
		c.SourceGit.BaseURL = v
	}
	if v := os.Getenv("SOURCEGIT_NAMESPACE"); v != "" {
		c.SourceGit.Namespace = v
	}
	if v := os.Getenv("DISTGIT_URL"); v != "" {
		c.DistGit.BaseURL = v
	}
	if v := os.Getenv("DISTGIT_NAMESPACE"); v != "" {
		c.DistGit.Namespace = v
	}
	if v := os.Getenv("PROJECT"); v != "" {
		c.Deployment = v
	}
	if v := os.Getenv("DISTSYNC_WEBHOOK_SECRET"); v != "" {
		c.WebhookSecret = v
	}
	if v := os.Getenv("DISTSYNC_DATABASE"); v != "" {
		c.Database = v
	}
	for i := range c.Forges {
		if c.Forges[i].Token == "" && c.Forges[i].TokenEnv != "" {
			c.Forges[i].Token = os.Getenv(c.Forges[i].TokenEnv)
		}
	}
}

// Validate checks patterns and forge types
func (c *Config) Validate() error {
	for _, target := range c.MRTargetsHandled {
		for _, pattern := range []string{target.Repo, target.Branch} {
			if pattern == "" {
				continue
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return syncerrors.Configurationf("invalid mr_targets_handled pattern %q: %v", pattern, err)
			}
		}
	}
	for _, forge := range c.Forges {
		switch forge.Type {
		case ForgeTypeGitHub, ForgeTypeGitLab, ForgeTypePagure:
		default:
			return syncerrors.Configurationf("forge %s has unknown type %q", forge.Hostname, forge.Type)
		}
		if forge.Hostname == "" {
			return syncerrors.Configurationf("forge of type %s has no hostname", forge.Type)
		}
	}
	if c.RetryLimit != nil && *c.RetryLimit < 0 {
		return syncerrors.Configurationf("retry_limit must not be negative")
	}
	return nil
}

// GetListen returns the HTTP listen address
func (c *Config) GetListen() string {
	if c.Listen != nil && *c.Listen != "" {
		return *c.Listen
	}
	return defaultListen
}

// GetWorkers returns the number of concurrent work items
func (c *Config) GetWorkers() int {
	if c.Workers != nil && *c.Workers > 0 {
		return *c.Workers
	}
	return defaultWorkers
}

// GetRetryLimit returns how many times a failing work item is retried
func (c *Config) GetRetryLimit() int {
	if c.RetryLimit != nil {
		return *c.RetryLimit
	}
	return defaultRetryLimit
}

// GetRetryBackoff returns the base delay between retries
func (c *Config) GetRetryBackoff() time.Duration {
	if c.RetryBackoff != nil && *c.RetryBackoff > 0 {
		return *c.RetryBackoff
	}
	return defaultRetryBackoff
}

// GetDatabase returns the relation store path
func (c *Config) GetDatabase() string {
	if c.Database != "" {
		return c.Database
	}
	return defaultDatabase
}

// GetWorkDir returns the directory for sync engine clones
func (c *Config) GetWorkDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return os.TempDir()
}

// GetSourceGitBaseURL returns the base URL of source repositories, with a trailing slash
func (c *Config) GetSourceGitBaseURL() string {
	base := c.SourceGit.BaseURL
	if base == "" {
		base = defaultSourceGitURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

// GetSourceGitNamespaceToken returns the namespace component used by source repositories
func (c *Config) GetSourceGitNamespaceToken() string {
	if c.SourceGit.NamespaceToken != "" {
		return c.SourceGit.NamespaceToken
	}
	return defaultSourceGitToken
}

// GetDistGitNamespaceToken returns the namespace component used by distribution repositories
func (c *Config) GetDistGitNamespaceToken() string {
	if c.DistGit.NamespaceToken != "" {
		return c.DistGit.NamespaceToken
	}
	return defaultDistGitToken
}

// GetDistGitBaseURL returns the base URL of distribution repositories with
// a trailing slash, or "" when it follows the source repository host
func (c *Config) GetDistGitBaseURL() string {
	base := c.DistGit.BaseURL
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

// GetPackageConfigPath returns the path of the package configuration in source repositories
func (c *Config) GetPackageConfigPath() string {
	if c.PackageConfigPath != "" {
		return c.PackageConfigPath
	}
	return defaultPackageConfigPath
}

// GetGitAuthor returns the commit author with defaults applied
func (c *Config) GetGitAuthor() GitAuthor {
	author := c.GitAuthor
	if author.Name == "" {
		author.Name = defaultAuthorName
	}
	if author.Email == "" {
		author.Email = defaultAuthorEmail
	}
	return author
}

// IsStream reports whether this is a CentOS Stream deployment
func (c *Config) IsStream() bool {
	return strings.HasPrefix(c.Deployment, "stream")
}

// ForgeFor returns the forge instance configured for the host of rawURL
func (c *Config) ForgeFor(rawURL string) (ForgeInstance, bool) {
	host := Hostname(rawURL)
	for _, forge := range c.Forges {
		if strings.EqualFold(forge.Hostname, host) {
			return forge, true
		}
	}
	return ForgeInstance{}, false
}

// Hostname extracts the host of a web, clone or scp-like git URL
func Hostname(rawURL string) string {
	if strings.HasPrefix(rawURL, "git@") {
		rest := strings.TrimPrefix(rawURL, "git@")
		if i := strings.IndexAny(rest, ":/"); i >= 0 {
			return rest[:i]
		}
		return rest
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
