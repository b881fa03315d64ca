package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

// isolate points every search path at an empty temporary directory.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Chdir(tmpDir)
	return tmpDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// TestNewLoader tests loader creation.
func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil || loader.v == nil {
		t.Fatal("NewLoader() returned no viper instance")
	}
	if NewLoaderWithViper(nil).v == nil {
		t.Fatal("NewLoaderWithViper(nil) returned no viper instance")
	}
}

// TestLoadWithNoConfigFile tests loading with no config file present.
func TestLoadWithNoConfigFile(t *testing.T) {
	isolate(t)

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if *cfg != DefaultConfig() {
		t.Errorf("Load() without a file should equal the defaults:\n got %+v\nwant %+v", *cfg, DefaultConfig())
	}
}

// TestLoadFromSearchPath tests that docflow.yaml in the working directory is found.
func TestLoadFromSearchPath(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "docflow.yaml"), `
log_level: debug
explorer:
  root: /srv/docs
ocr:
  language: deu
`)

	loader := NewLoaderWithViper(viper.New())
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != debugLevel || cfg.Explorer.Root != "/srv/docs" || cfg.OCR.Language != "deu" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port to survive, got %d", cfg.Server.Port)
	}
	if !strings.HasSuffix(loader.GetConfigFileUsed(), "docflow.yaml") {
		t.Errorf("GetConfigFileUsed() = %q", loader.GetConfigFileUsed())
	}
}

// TestLoadFromXDGConfigHome tests the XDG search path.
func TestLoadFromXDGConfigHome(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "xdg", "docflow", "docflow.yaml"), "cache:\n  freshness_hours: 72\n")

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Cache.FreshnessHours != 72 {
		t.Errorf("Expected freshness 72, got %d", cfg.Cache.FreshnessHours)
	}
}

// TestLoadWithEnvironmentVariables tests DOCFLOW_ overrides.
func TestLoadWithEnvironmentVariables(t *testing.T) {
	isolate(t)
	t.Setenv("DOCFLOW_SERVER_PORT", "9090")
	t.Setenv("DOCFLOW_OCR_PAGE_TIMEOUT_SEC", "20")
	t.Setenv("DOCFLOW_CACHE_PERSIST", "true")

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.OCR.PageTimeoutSec != 20 {
		t.Errorf("Expected page timeout 20, got %d", cfg.OCR.PageTimeoutSec)
	}
	if !cfg.Cache.Persist {
		t.Error("Expected cache persist from env")
	}
}

// TestLoadWithFile tests loading an explicit file.
func TestLoadWithFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "output:\n  format: csv\n  file: out.csv\n")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() unexpected error: %v", err)
	}
	if cfg.Output.Format != "csv" || cfg.Output.File != "out.csv" {
		t.Errorf("Unexpected output config: %+v", cfg.Output)
	}

	if _, err := NewLoaderWithViper(viper.New()).LoadWithFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadWithFile() expected error for missing file")
	}
}

// TestLoadValidation tests that invalid files fail validation unless skipped.
func TestLoadValidation(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "docflow.yaml"), "log_level: loud\n")

	if _, err := NewLoaderWithViper(viper.New()).Load(); err == nil ||
		!strings.Contains(err.Error(), "configuration validation failed") {
		t.Errorf("Load() expected validation error, got %v", err)
	}

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithoutValidation()
	if err != nil {
		t.Fatalf("LoadWithoutValidation() unexpected error: %v", err)
	}
	if cfg.LogLevel != "loud" {
		t.Errorf("Expected raw log level, got %s", cfg.LogLevel)
	}
}

// TestLoadMalformedFile tests that a broken file is reported.
func TestLoadMalformedFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "docflow.yaml"), "server: [unclosed\n")

	if _, err := NewLoaderWithViper(viper.New()).Load(); err == nil {
		t.Error("Load() expected error for malformed yaml")
	}
}

// TestGenerateDefaultConfigFile tests writing and reloading the defaults.
func TestGenerateDefaultConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "generated.yaml")

	if err := GenerateDefaultConfigFile(path); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() error: %v", err)
	}
	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error: %v", err)
	}
	if *cfg != DefaultConfig() {
		t.Errorf("generated file does not reload to the defaults: %+v", *cfg)
	}
}

// TestGetConfigSearchPaths tests the search path order.
func TestGetConfigSearchPaths(t *testing.T) {
	dir := isolate(t)
	paths := GetConfigSearchPaths()

	want := []string{".", dir, filepath.Join(dir, "xdg", "docflow"), "/etc/docflow"}
	if len(paths) != len(want) {
		t.Fatalf("GetConfigSearchPaths() = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path %d = %s, want %s", i, paths[i], want[i])
		}
	}
}

func TestLoaderGetSet(t *testing.T) {
	loader := NewLoaderWithViper(viper.New())
	loader.Set("server.port", 1234)
	if loader.Get("server.port") != 1234 {
		t.Errorf("Get() = %v", loader.Get("server.port"))
	}
	if _, ok := loader.GetResolvedConfig()["server"]; !ok {
		t.Error("GetResolvedConfig() missing server section")
	}
}
