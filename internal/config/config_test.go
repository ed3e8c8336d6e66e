package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/a-synchronous/tour/internal/sandbox"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Sandbox.LibraryURL != sandbox.DefaultLibraryURL {
		t.Errorf("LibraryURL = %q, want %q", cfg.Sandbox.LibraryURL, sandbox.DefaultLibraryURL)
	}
	if cfg.Sandbox.Global != "rubico" {
		t.Errorf("Global = %q, want rubico", cfg.Sandbox.Global)
	}
	if len(cfg.Sandbox.Imports) != len(sandbox.DefaultImports) {
		t.Errorf("got %d imports, want %d", len(cfg.Sandbox.Imports), len(sandbox.DefaultImports))
	}
	if len(cfg.Sandbox.ConnectSrc) != 1 || cfg.Sandbox.ConnectSrc[0] != "https:" {
		t.Errorf("ConnectSrc = %v, want [https:]", cfg.Sandbox.ConnectSrc)
	}
	if !cfg.Editor.LineNumbers || !cfg.Editor.LineWrapping {
		t.Error("editor should default to line numbers and wrapping")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestSandboxConfigGetCacheTTL(t *testing.T) {
	tests := []struct {
		name     string
		ttl      string
		expected time.Duration
	}{
		{"empty TTL", "", 10 * time.Minute},
		{"invalid TTL", "invalid", 10 * time.Minute},
		{"negative TTL", "-5m", 10 * time.Minute},
		{"disabled", "0s", 0},
		{"30 seconds", "30s", 30 * time.Second},
		{"1 hour", "1h", time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := SandboxConfig{CacheTTL: tt.ttl}
			if got := cfg.GetCacheTTL(); got != tt.expected {
				t.Errorf("GetCacheTTL() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetters(t *testing.T) {
	if got := (SandboxConfig{}).GetMaxCode(); got != 64<<10 {
		t.Errorf("GetMaxCode() = %d, want %d", got, 64<<10)
	}
	if got := (SandboxConfig{MaxCode: 100}).GetMaxCode(); got != 100 {
		t.Errorf("GetMaxCode() = %d, want 100", got)
	}
	if got := (RateLimitConfig{}).GetRPS(); got != 5 {
		t.Errorf("GetRPS() = %v, want 5", got)
	}
	if got := (RateLimitConfig{RequestsPerSecond: 0.5}).GetRPS(); got != 0.5 {
		t.Errorf("GetRPS() = %v, want 0.5", got)
	}
	if got := (RateLimitConfig{}).GetBurst(); got != 10 {
		t.Errorf("GetBurst() = %d, want 10", got)
	}
	if got := (RateLimitConfig{}).GetMaxClients(); got != 10000 {
		t.Errorf("GetMaxClients() = %d, want 10000", got)
	}
	if got := (RateLimitConfig{MaxClients: 2}).GetMaxClients(); got != 2 {
		t.Errorf("GetMaxClients() = %d, want 2", got)
	}
	if got := (RateLimitConfig{Burst: 3}).GetBurst(); got != 3 {
		t.Errorf("GetBurst() = %d, want 3", got)
	}
}

func TestShareConfigGetDB(t *testing.T) {
	dir := filepath.Join("srv", "tour")
	tests := []struct {
		name     string
		db       string
		expected string
	}{
		{"default", "", filepath.Join(dir, "tour.db")},
		{"relative", "data/share.db", filepath.Join(dir, "data/share.db")},
		{"absolute", "/var/lib/tour.db", "/var/lib/tour.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (ShareConfig{DB: tt.db}).GetDB(dir); got != tt.expected {
				t.Errorf("GetDB() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSandboxConfigTemplate(t *testing.T) {
	cfg := DefaultConfig().Sandbox
	tmpl := cfg.Template()

	if tmpl.Encoding != sandbox.EncodingURI {
		t.Errorf("Encoding = %q, want %q", tmpl.Encoding, sandbox.EncodingURI)
	}

	// The template owns its own copy of the imports.
	tmpl.Imports[0] = "changed"
	if cfg.Imports[0] == "changed" {
		t.Error("Template() should copy Imports")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"private library", func(c *Config) { c.Sandbox.LibraryURL = "http://10.0.0.1/rubico.js" }, "sandbox.library_url"},
		{"relative cdn", func(c *Config) { c.Editor.CDN = "/codemirror" }, "editor.cdn"},
		{"bad encoding", func(c *Config) { c.Sandbox.Encoding = "hex" }, "sandbox:"},
		{"bad import", func(c *Config) { c.Sandbox.Imports = []string{"not-an-ident"} }, "sandbox:"},
		{"no library skips imports", func(c *Config) {
			c.Sandbox.LibraryURL = ""
			c.Sandbox.Imports = []string{"not-an-ident"}
		}, ""},
		{"no cdn", func(c *Config) { c.Editor.CDN = "" }, ""},
		{"connect origin", func(c *Config) { c.Sandbox.ConnectSrc = []string{"https://jsonplaceholder.typicode.com"} }, ""},
		{"no connect sources", func(c *Config) { c.Sandbox.ConnectSrc = nil }, ""},
		{"bad connect source", func(c *Config) { c.Sandbox.ConnectSrc = []string{"https:", "javascript:"} }, "sandbox.connect_src"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFromDir() error = %v", err)
	}
	if cfg.Title != DefaultConfig().Title {
		t.Errorf("Title = %q, want default", cfg.Title)
	}

	cfg, err = Load("")
	if err != nil || cfg == nil {
		t.Fatalf("Load(\"\") = %v, %v", cfg, err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `title: "Lodash tour"
server:
  port: 9090
sandbox:
  library_url: https://unpkg.com/lodash
  global: _
  imports: [map, filter]
  encoding: base64
  cache_ttl: 1m
rate_limit:
  burst: 2
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir() error = %v", err)
	}

	if cfg.Title != "Lodash tour" {
		t.Errorf("Title = %q", cfg.Title)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("Host = %q, default should survive", cfg.Server.Host)
	}
	if cfg.Sandbox.Global != "_" || len(cfg.Sandbox.Imports) != 2 {
		t.Errorf("Sandbox = %+v", cfg.Sandbox)
	}
	if cfg.Sandbox.GetCacheTTL() != time.Minute {
		t.Errorf("GetCacheTTL() = %v", cfg.Sandbox.GetCacheTTL())
	}
	if cfg.RateLimit.GetBurst() != 2 {
		t.Errorf("GetBurst() = %d", cfg.RateLimit.GetBurst())
	}
	if cfg.Sandbox.FontSize != "1.25em" {
		t.Errorf("FontSize = %q, default should survive", cfg.Sandbox.FontSize)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "title: [", "failed to parse config file"},
		{"invalid value", "sandbox:\n  encoding: hex\n", "invalid config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := DefaultConfig()
	cfg.Title = "Saved"
	cfg.Share.Enabled = true

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Title != "Saved" || !loaded.Share.Enabled {
		t.Errorf("loaded = %+v", loaded)
	}
}
