package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "languages.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[language.forth]
command = "forth-lsp"
args = ["--stdio"]
file_extension = "fth"

[language.forth.env]
FORTH_LSP_LOG = "error"

[language.forth.initialization_options]
dictionary = "core"

[language.forth.settings]
maxDepth = 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	server, err := cfg.Resolve("forth")
	require.NoError(t, err)
	assert.Equal(t, "forth-lsp", server.Command)
	assert.Equal(t, []string{"--stdio"}, server.Args)
	assert.Equal(t, "fth", server.FileExtension)
	assert.Equal(t, map[string]string{"FORTH_LSP_LOG": "error"}, server.Env)
	assert.Equal(t, "core", server.InitializationOptions["dictionary"])
	assert.EqualValues(t, 8, server.Settings["maxDepth"])
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Malformed(t *testing.T) {
	path := writeConfig(t, "[language.go\ncommand =")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	cfg := Default()

	server, err := cfg.Resolve("rust")
	require.NoError(t, err)
	assert.Equal(t, "rust-analyzer", server.Command)

	// Tags normalize to lowercase.
	_, err = cfg.Resolve("Rust")
	assert.NoError(t, err)

	_, err = cfg.Resolve("brainfuck")
	assert.ErrorIs(t, err, ErrNoServerConfigured)
}

func TestResolve_ForbiddenFormats(t *testing.T) {
	cfg := Default()
	for _, lang := range []string{"markdown", "md", "typst", "rst", "latex", "org"} {
		_, err := cfg.Resolve(lang)
		assert.ErrorIs(t, err, ErrForbiddenLanguage, "language %q", lang)
	}
}

func TestLoadLayered_ForbiddenEntriesDropped(t *testing.T) {
	// A user config that tries to register a child for markdown would
	// make the proxy spawn itself; the entry is discarded.
	path := writeConfig(t, `
[language.markdown]
command = "literate-lsp"

[language.forth]
command = "forth-lsp"
`)

	cfg, err := LoadLayered(path)
	require.NoError(t, err)

	assert.False(t, cfg.Configured("markdown"))
	assert.True(t, cfg.Configured("forth"))
}

func TestLoadLayered_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[language.rust]
command = "ra-multiplex"
args = ["client"]
`)

	cfg, err := LoadLayered(path)
	require.NoError(t, err)

	server, err := cfg.Resolve("rust")
	require.NoError(t, err)
	assert.Equal(t, "ra-multiplex", server.Command)

	// Untouched defaults survive.
	server, err = cfg.Resolve("go")
	require.NoError(t, err)
	assert.Equal(t, "gopls", server.Command)
}

func TestLoadLayered_ExplicitPathMustExist(t *testing.T) {
	_, err := LoadLayered(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestExtension(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "rs", cfg.Extension("rust"))
	assert.Equal(t, "go", cfg.Extension("go"))
	assert.Equal(t, "fth", cfg.Extension("forth"))

	// Configured override wins.
	cfg.Language["rust"] = Server{Command: "rust-analyzer", FileExtension: "rust"}
	assert.Equal(t, "rust", cfg.Extension("rust"))

	// Unknown tags fall back to the tag itself.
	assert.Equal(t, "gleam", cfg.Extension("gleam"))
}

func TestLanguages_Sorted(t *testing.T) {
	cfg := &Config{Language: map[string]Server{
		"zig":  {Command: "zls"},
		"ada":  {Command: "ada_language_server"},
		"rust": {Command: "rust-analyzer"},
	}}
	assert.Equal(t, []string{"ada", "rust", "zig"}, cfg.Languages())
}

func TestConfigured(t *testing.T) {
	cfg := &Config{Language: map[string]Server{
		"go":    {Command: "gopls"},
		"empty": {},
	}}
	assert.True(t, cfg.Configured("go"))
	assert.False(t, cfg.Configured("empty"), "entry without command is unusable")
	assert.False(t, cfg.Configured("none"))
}
