// Package config resolves language tags to child language-server
// configurations.
//
// Configuration is a TOML table keyed by language tag, merged over
// three layers: built-in defaults, the user file at
// ~/.config/literate-lsp/languages.toml, and a project-local
// ./.languages.toml. Later layers replace earlier entries per
// language.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Resolution errors.
var (
	// ErrNoServerConfigured means the language has no usable child
	// command; the router treats this as "silently do not forward".
	ErrNoServerConfigured = errors.New("no server configured for language")

	// ErrForbiddenLanguage marks documentation formats that may never
	// be child servers: a proxy spawning a proxy for the host format
	// would recurse without bound.
	ErrForbiddenLanguage = errors.New("language is a documentation format")
)

// forbiddenFormats are documentation formats excluded as children.
var forbiddenFormats = map[string]bool{
	"md": true, "markdown": true, "typst": true, "typ": true,
	"rst": true, "restructuredtext": true, "org": true,
	"asciidoc": true, "latex": true, "tex": true,
}

// Server describes how to run one child language server.
type Server struct {
	Command               string            `toml:"command"`
	Args                  []string          `toml:"args"`
	Env                   map[string]string `toml:"env"`
	InitializationOptions map[string]any    `toml:"initialization_options"`
	Settings              map[string]any    `toml:"settings"`
	FileExtension         string            `toml:"file_extension"`
}

// Config is the merged language table.
type Config struct {
	Language map[string]Server `toml:"language"`
}

// Default returns the built-in table covering common servers. User
// layers override per language.
func Default() *Config {
	return &Config{Language: map[string]Server{
		"go": {
			Command:       "gopls",
			Args:          []string{"serve"},
			FileExtension: "go",
		},
		"rust": {
			Command:       "rust-analyzer",
			FileExtension: "rs",
		},
		"typescript": {
			Command:       "typescript-language-server",
			Args:          []string{"--stdio"},
			FileExtension: "ts",
		},
		"javascript": {
			Command:       "typescript-language-server",
			Args:          []string{"--stdio"},
			FileExtension: "js",
		},
		"python": {
			Command:       "pylsp",
			FileExtension: "py",
		},
		"c": {
			Command:       "clangd",
			FileExtension: "c",
		},
		"cpp": {
			Command:       "clangd",
			FileExtension: "cpp",
		},
		"forth": {
			Command:       "forth-lsp",
			FileExtension: "fth",
		},
	}}
}

// Load parses a single TOML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if cfg.Language == nil {
		cfg.Language = make(map[string]Server)
	}
	return &cfg, nil
}

// LoadLayered builds the effective configuration. When explicitPath is
// non-empty it must exist and is the only user layer; otherwise the
// user and project files are merged over the defaults when present.
func LoadLayered(explicitPath string) (*Config, error) {
	cfg := Default()

	if explicitPath != "" {
		user, err := Load(explicitPath)
		if err != nil {
			return nil, err
		}
		cfg.Merge(user)
		cfg.dropForbidden()
		return cfg, nil
	}

	if dir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(dir, "literate-lsp", "languages.toml")
		if user, err := Load(path); err == nil {
			cfg.Merge(user)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if local, err := Load(".languages.toml"); err == nil {
		cfg.Merge(local)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg.dropForbidden()
	return cfg, nil
}

// Merge overlays other onto c; other's entries win per language.
func (c *Config) Merge(other *Config) {
	for lang, server := range other.Language {
		c.Language[normalize(lang)] = server
	}
}

// dropForbidden removes documentation formats from the table so a
// stray user entry cannot make the proxy spawn itself.
func (c *Config) dropForbidden() {
	for lang := range c.Language {
		if forbiddenFormats[lang] {
			delete(c.Language, lang)
		}
	}
}

// Resolve returns the child configuration for a language tag.
func (c *Config) Resolve(lang string) (Server, error) {
	lang = normalize(lang)
	if forbiddenFormats[lang] {
		return Server{}, fmt.Errorf("%q: %w", lang, ErrForbiddenLanguage)
	}
	server, ok := c.Language[lang]
	if !ok || server.Command == "" {
		return Server{}, fmt.Errorf("%q: %w", lang, ErrNoServerConfigured)
	}
	return server, nil
}

// Configured reports whether lang resolves to a usable child.
func (c *Config) Configured(lang string) bool {
	_, err := c.Resolve(lang)
	return err == nil
}

// Languages returns the configured tags, sorted.
func (c *Config) Languages() []string {
	langs := make([]string, 0, len(c.Language))
	for lang := range c.Language {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Extension returns the file extension used for a language's virtual
// URIs: the configured override, a conventional default, or the tag
// itself.
func (c *Config) Extension(lang string) string {
	lang = normalize(lang)
	if server, ok := c.Language[lang]; ok && server.FileExtension != "" {
		return server.FileExtension
	}
	if ext, ok := defaultExtensions[lang]; ok {
		return ext
	}
	return lang
}

// defaultExtensions are the conventional extensions for tags whose
// config entry does not set one.
var defaultExtensions = map[string]string{
	"go":         "go",
	"rust":       "rs",
	"typescript": "ts",
	"javascript": "js",
	"python":     "py",
	"ruby":       "rb",
	"c":          "c",
	"cpp":        "cpp",
	"forth":      "fth",
	"haskell":    "hs",
	"zig":        "zig",
	"lua":        "lua",
	"java":       "java",
	"kotlin":     "kt",
	"elixir":     "ex",
	"ocaml":      "ml",
	"shell":      "sh",
	"bash":       "sh",
}

// DefaultTriggerCharacters are advertised for completion before any
// child has reported its own set.
var DefaultTriggerCharacters = []string{".", ":"}

func normalize(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}
