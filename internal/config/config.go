package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/a-synchronous/tour/internal/sandbox"
	"github.com/a-synchronous/tour/internal/security"
)

// FileName is the configuration file looked up in the served directory.
const FileName = "tour.yaml"

// Config represents the tour configuration
type Config struct {
	Title     string          `yaml:"title"`
	Server    ServerConfig    `yaml:"server"`
	Editor    EditorConfig    `yaml:"editor"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Features  FeaturesConfig  `yaml:"features"`
	Share     ShareConfig     `yaml:"share"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Ignore    []string        `yaml:"ignore"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Host  string `yaml:"host"`
	Debug bool   `yaml:"debug"`
}

// EditorConfig configures the embedded code editor
type EditorConfig struct {
	CDN          string `yaml:"cdn"` // Base URL of the CodeMirror distribution
	Theme        string `yaml:"theme"`
	LineNumbers  bool   `yaml:"line_numbers"`
	LineWrapping bool   `yaml:"line_wrapping"`
}

// SandboxConfig configures the document snippets run in
type SandboxConfig struct {
	LibraryURL string   `yaml:"library_url"` // Empty runs snippets without a library
	Global     string   `yaml:"global"`      // Global the library installs (e.g. "rubico")
	Imports    []string `yaml:"imports"`     // Names destructured from the global
	Encoding   string   `yaml:"encoding"`    // "uri" or "base64"
	FontSize   string   `yaml:"font_size"`   // Output panel font size
	CacheTTL   string   `yaml:"cache_ttl"`   // How long generated iframe srcs are reused (e.g. "10m")
	MaxCode    int      `yaml:"max_code"`    // Maximum snippet size in bytes
	// ConnectSrc lists what snippets may fetch: scheme sources ("https:")
	// or origins. Sandbox frames inherit the page's connect-src.
	ConnectSrc []string `yaml:"connect_src"`
}

// FeaturesConfig holds feature flags
type FeaturesConfig struct {
	HotReload bool `yaml:"hot_reload"`
}

// ShareConfig configures snippet sharing
type ShareConfig struct {
	Enabled bool   `yaml:"enabled"`
	DB      string `yaml:"db"` // SQLite database path, relative to the served directory
}

// RateLimitConfig limits run and share requests per client IP
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxClients        int     `yaml:"max_clients"` // Client IPs tracked at once
}

// Template returns the sandbox template described by the config.
func (c SandboxConfig) Template() sandbox.Template {
	return sandbox.Template{
		LibraryURL: c.LibraryURL,
		Global:     c.Global,
		Imports:    append([]string(nil), c.Imports...),
		FontSize:   c.FontSize,
		Encoding:   sandbox.Encoding(c.Encoding),
	}
}

// GetCacheTTL returns the cache TTL (default: 10m, 0 disables caching)
func (c SandboxConfig) GetCacheTTL() time.Duration {
	if c.CacheTTL == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d < 0 {
		return 10 * time.Minute
	}
	return d
}

// GetMaxCode returns the snippet size limit (default: 64 KiB)
func (c SandboxConfig) GetMaxCode() int {
	if c.MaxCode <= 0 {
		return 64 << 10
	}
	return c.MaxCode
}

// GetRPS returns the rate limit in requests per second (default: 5)
func (c RateLimitConfig) GetRPS() float64 {
	if c.RequestsPerSecond <= 0 {
		return 5
	}
	return c.RequestsPerSecond
}

// GetBurst returns the burst size (default: 10)
func (c RateLimitConfig) GetBurst() int {
	if c.Burst <= 0 {
		return 10
	}
	return c.Burst
}

// GetMaxClients returns how many client IPs are tracked (default: 10000)
func (c RateLimitConfig) GetMaxClients() int {
	if c.MaxClients <= 0 {
		return 10000
	}
	return c.MaxClients
}

// GetDB returns the share database path resolved against dir.
func (c ShareConfig) GetDB(dir string) string {
	db := c.DB
	if db == "" {
		db = "tour.db"
	}
	if filepath.IsAbs(db) {
		return db
	}
	return filepath.Join(dir, db)
}

// Validate checks settings that would otherwise fail at request time.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Sandbox.LibraryURL != "" {
		if err := security.ValidateLibraryURL(c.Sandbox.LibraryURL); err != nil {
			return fmt.Errorf("sandbox.library_url: %w", err)
		}
	}
	if c.Editor.CDN != "" {
		if err := security.ValidateLibraryURL(c.Editor.CDN); err != nil {
			return fmt.Errorf("editor.cdn: %w", err)
		}
	}
	for _, src := range c.Sandbox.ConnectSrc {
		if _, err := security.ConnectSource(src); err != nil {
			return fmt.Errorf("sandbox.connect_src: %w", err)
		}
	}
	if err := c.Sandbox.Template().Validate(); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	tmpl := sandbox.Default()
	return &Config{
		Title: "A tour of rubico",
		Server: ServerConfig{
			Port:  8080,
			Host:  "localhost",
			Debug: false,
		},
		Editor: EditorConfig{
			CDN:          "https://cdnjs.cloudflare.com/ajax/libs/codemirror/5.65.16",
			Theme:        "default",
			LineNumbers:  true,
			LineWrapping: true,
		},
		Sandbox: SandboxConfig{
			LibraryURL: tmpl.LibraryURL,
			Global:     tmpl.Global,
			Imports:    tmpl.Imports,
			Encoding:   string(tmpl.Encoding),
			FontSize:   tmpl.FontSize,
			ConnectSrc: []string{"https:"},
		},
		Features: FeaturesConfig{
			HotReload: false,
		},
		Ignore: []string{
			"drafts/**",
			"_*.md",
		},
	}
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return config, nil
}

// LoadFromDir loads tour.yaml from dir, or the defaults when it is absent.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
