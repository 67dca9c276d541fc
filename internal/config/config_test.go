package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	// Create a temp config file
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// When no config exists anywhere, should error
	// (Save and restore CWD to avoid finding the repo's config.yaml)
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("gemini:\n  api_key: ${KIWI_TEST_KEY}\n"), 0600)
	os.Setenv("KIWI_TEST_KEY", "secret123")
	defer os.Unsetenv("KIWI_TEST_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gemini.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Gemini.APIKey, "secret123")
	}
}

func TestLoad_InlineSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("gemini:\n  api_key: AIza-test-key\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gemini.APIKey != "AIza-test-key" {
		t.Errorf("api_key = %q, want %q", cfg.Gemini.APIKey, "AIza-test-key")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("gemini:\n  api_key: k\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Database.Path != "kiwi.db" {
		t.Errorf("database path = %q, want kiwi.db", cfg.Database.Path)
	}
	if cfg.Gemini.Model != "gemini-2.5-flash" {
		t.Errorf("model = %q, want gemini-2.5-flash", cfg.Gemini.Model)
	}
	if cfg.Gemini.MaxOutputTokens != 24000 {
		t.Errorf("max_output_tokens = %d, want 24000", cfg.Gemini.MaxOutputTokens)
	}
	if !cfg.Gemini.DisableThinking {
		t.Error("disable_thinking should default to true")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(`
gemini:
  api_key: k
  model: gemini-2.5-pro
  max_output_tokens: 4096
  disable_thinking: false
listen:
  port: 9090
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Gemini.Model != "gemini-2.5-pro" {
		t.Errorf("model = %q, want gemini-2.5-pro", cfg.Gemini.Model)
	}
	if cfg.Gemini.MaxOutputTokens != 4096 {
		t.Errorf("max_output_tokens = %d, want 4096", cfg.Gemini.MaxOutputTokens)
	}
	if cfg.Gemini.DisableThinking {
		t.Error("disable_thinking should be overridable to false")
	}
	if cfg.Listen.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Listen.Port)
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.Gemini.APIKey = "k"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing api key", func(c *Config) { c.Gemini.APIKey = "" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"session without subject", func(c *Config) {
			c.Sessions = []SessionConfig{{Token: "t", Email: "a@b.c"}}
		}, true},
		{"session without email", func(c *Config) {
			c.Sessions = []SessionConfig{{Token: "t", Subject: "s"}}
		}, true},
		{"session without token", func(c *Config) {
			c.Sessions = []SessionConfig{{Subject: "s", Email: "a@b.c"}}
		}, true},
		{"session with token_hash only", func(c *Config) {
			c.Sessions = []SessionConfig{{TokenHash: "$2a$10$x", Subject: "s", Email: "a@b.c"}}
		}, false},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"good log level", func(c *Config) { c.LogLevel = "debug" }, false},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"json log format", func(c *Config) { c.LogFormat = "json" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"bogus", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	attr := slog.Any(slog.LevelKey, LevelTrace)
	out := ReplaceLogLevelNames(nil, attr)
	if out.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q, want TRACE", out.Value.String())
	}

	info := slog.Any(slog.LevelKey, slog.LevelInfo)
	out = ReplaceLogLevelNames(nil, info)
	if out.Value.String() == "TRACE" {
		t.Error("info level should not render as TRACE")
	}
}
