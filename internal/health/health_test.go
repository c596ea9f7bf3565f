package health

import (
	"strings"
	"testing"

	"github.com/dshills/literate-lsp/internal/config"
)

func TestLanguages(t *testing.T) {
	cfg := &config.Config{Language: map[string]config.Server{
		"forth": {Command: "forth-lsp"},
		"go":    {Command: "gopls", Args: []string{"serve"}},
	}}

	var sb strings.Builder
	code := Languages(cfg, &sb)

	if code != ExitOK {
		t.Fatalf("Languages() = %d, want %d", code, ExitOK)
	}
	out := sb.String()
	if !strings.Contains(out, "forth → forth-lsp") {
		t.Errorf("missing forth entry:\n%s", out)
	}
	if !strings.Contains(out, "go → gopls serve") {
		t.Errorf("missing go entry with args:\n%s", out)
	}
	// Sorted order.
	if strings.Index(out, "forth") > strings.Index(out, "go →") {
		t.Errorf("languages not sorted:\n%s", out)
	}
}

func TestLanguages_Empty(t *testing.T) {
	cfg := &config.Config{Language: map[string]config.Server{}}

	var sb strings.Builder
	if code := Languages(cfg, &sb); code != ExitOK {
		t.Fatalf("Languages() = %d", code)
	}
	if !strings.Contains(sb.String(), "no languages configured") {
		t.Errorf("unexpected output: %s", sb.String())
	}
}

func TestCheck_UnconfiguredLanguage(t *testing.T) {
	cfg := &config.Config{Language: map[string]config.Server{}}

	var sb strings.Builder
	code := Check(cfg, "cobol", &sb, nil)

	if code != ExitConfigError {
		t.Errorf("Check(cobol) = %d, want %d", code, ExitConfigError)
	}
}

func TestCheck_ForbiddenLanguage(t *testing.T) {
	cfg := config.Default()

	var sb strings.Builder
	code := Check(cfg, "markdown", &sb, nil)

	if code != ExitConfigError {
		t.Errorf("Check(markdown) = %d, want %d", code, ExitConfigError)
	}
	if !strings.Contains(sb.String(), "documentation format") {
		t.Errorf("missing refusal reason: %s", sb.String())
	}
}

func TestCheck_CommandNotInPath(t *testing.T) {
	cfg := &config.Config{Language: map[string]config.Server{
		"forth": {Command: "definitely-not-installed-lsp"},
	}}

	var sb strings.Builder
	code := Check(cfg, "forth", &sb, nil)

	if code != ExitUnhealthy {
		t.Errorf("Check() = %d, want %d", code, ExitUnhealthy)
	}
	if !strings.Contains(sb.String(), "not found in PATH") {
		t.Errorf("missing failure reason: %s", sb.String())
	}
}

func TestCheck_AllUnhealthy(t *testing.T) {
	cfg := &config.Config{Language: map[string]config.Server{
		"forth": {Command: "missing-forth-lsp"},
		"zig":   {Command: "missing-zls"},
	}}

	var sb strings.Builder
	code := Check(cfg, "", &sb, nil)

	if code != ExitUnhealthy {
		t.Errorf("Check() = %d, want %d", code, ExitUnhealthy)
	}
	out := sb.String()
	if !strings.Contains(out, "✗ forth") || !strings.Contains(out, "✗ zig") {
		t.Errorf("missing per-language failures:\n%s", out)
	}
}
