package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validDocument = `
gitlab:
  url: https://forge.example
  token: tok
  username: admin
  password: pw
  secret: sh4red
keycloak:
  url: https://idp.example
  username: admin
  password: pw
  realm: secd
db:
  host: db.example
  username: admin
  password: pw
registry:
  url: registry.example
  username: admin
  password: pw
  project: secd
k8s:
  pvcPath: /exports/secd
path:
  repoPath: /var/secd/repos
  cachePath: /var/secd/cache
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, validDocument)
	t.Setenv(envConfigFile, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %s, want json", cfg.Logging.Format)
	}
	if cfg.Launch.MaxConcurrentLaunches != 8 {
		t.Errorf("Launch.MaxConcurrentLaunches = %d, want 8", cfg.Launch.MaxConcurrentLaunches)
	}
}

func TestLoadMissingEnvVarIsFatal(t *testing.T) {
	t.Setenv(envConfigFile, "")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error when CONFIG_FILE is unset")
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, "gitlab:\n  url: https://forge.example\n")
	t.Setenv(envConfigFile, path)
	if _, err := Load(); err == nil {
		t.Fatal("expected a validation error for an incomplete document")
	}
}

func TestResolvedRepoPathPrefersPathSection(t *testing.T) {
	cfg := Config{RepoPath: "/legacy"}
	cfg.Path.RepoPath = "/preferred"
	if got := cfg.ResolvedRepoPath(); got != "/preferred" {
		t.Fatalf("ResolvedRepoPath() = %s, want /preferred", got)
	}
}

func TestResolvedRepoPathFallsBackToLegacy(t *testing.T) {
	cfg := Config{RepoPath: "/legacy"}
	if got := cfg.ResolvedRepoPath(); got != "/legacy" {
		t.Fatalf("ResolvedRepoPath() = %s, want /legacy", got)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}
