// Package config loads the process-wide settings document named by the
// CONFIG_FILE environment variable and validates it against a declarative
// schema before the rest of the process is allowed to start.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// GitLab holds the forge admin token, clone basic-auth, and webhook secret.
type GitLab struct {
	URL      string `yaml:"url" validate:"required,url"`
	Token    string `yaml:"token" validate:"required"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	Secret   string `yaml:"secret" validate:"required"`
}

// Keycloak holds the IdP admin credentials.
type Keycloak struct {
	URL      string `yaml:"url" validate:"required,url"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	Realm    string `yaml:"realm" validate:"required"`
}

// DB holds the relational-database admin connection used to mint
// ephemeral per-run principals.
type DB struct {
	Host     string `yaml:"host" validate:"required"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`
}

// Registry holds the private OCI registry credentials and project prefix.
type Registry struct {
	URL      string `yaml:"url" validate:"required"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	Project  string `yaml:"project" validate:"required"`
}

// K8s holds the kubeconfig location and NFS export root.
type K8s struct {
	ConfigPath string `yaml:"configPath"`
	PVCPath    string `yaml:"pvcPath" validate:"required"`
}

// Path holds the host working and cache roots. RepoPath is also accepted
// at the legacy top level; Path.RepoPath wins when both are set.
type Path struct {
	RepoPath  string `yaml:"repoPath"`
	CachePath string `yaml:"cachePath"`
}

// Logging controls the zap-backed root logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Launch bounds the admission path's worker pool.
type Launch struct {
	MaxConcurrentLaunches int `yaml:"maxConcurrentLaunches"`
}

// Config is the full, validated, read-only settings document.
type Config struct {
	GitLab   GitLab   `yaml:"gitlab" validate:"required"`
	Keycloak Keycloak `yaml:"keycloak" validate:"required"`
	DB       DB       `yaml:"db" validate:"required"`
	Registry Registry `yaml:"registry" validate:"required"`
	K8s      K8s      `yaml:"k8s" validate:"required"`
	Path     Path     `yaml:"path"`
	RepoPath string   `yaml:"repoPath"` // legacy top-level form

	Logging Logging `yaml:"logging"`
	Launch  Launch  `yaml:"launch"`
}

// ResolvedRepoPath returns Path.RepoPath when set, else the legacy
// top-level RepoPath.
func (c Config) ResolvedRepoPath() string {
	if strings.TrimSpace(c.Path.RepoPath) != "" {
		return c.Path.RepoPath
	}
	return c.RepoPath
}

// ResolvedCachePath returns Path.CachePath.
func (c Config) ResolvedCachePath() string {
	return c.Path.CachePath
}

const envConfigFile = "CONFIG_FILE"

// Load reads, parses and schema-validates the settings document named by
// CONFIG_FILE. Any error here is fatal to process start.
func Load() (Config, error) {
	path := strings.TrimSpace(os.Getenv(envConfigFile))
	if path == "" {
		return Config{}, fmt.Errorf("%s is not set", envConfigFile)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if cfg.ResolvedRepoPath() == "" {
		return Config{}, fmt.Errorf("invalid config file %s: repoPath (or path.repoPath) is required", path)
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Launch.MaxConcurrentLaunches <= 0 {
		cfg.Launch.MaxConcurrentLaunches = 8
	}

	return cfg, nil
}
