// Package health implements the CLI probes: --health checks that
// configured children can be found, spawned, and complete an
// initialize round-trip; --languages lists the configured table.
package health

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/literate-lsp/internal/child"
	"github.com/dshills/literate-lsp/internal/config"
)

// probeTimeout bounds one child's spawn plus initialize round-trip.
const probeTimeout = 15 * time.Second

// probeConcurrency limits simultaneous child processes during a full
// health sweep.
const probeConcurrency = 4

// Exit codes.
const (
	ExitOK          = 0
	ExitConfigError = 1
	ExitUnhealthy   = 2
)

// result is one language's probe outcome.
type result struct {
	lang    string
	command string
	path    string
	err     error
}

// Check probes the configured children and prints a report. With a
// non-empty lang only that language is probed.
func Check(cfg *config.Config, lang string, w io.Writer, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}

	var langs []string
	if lang != "" {
		if !cfg.Configured(lang) {
			if _, err := cfg.Resolve(lang); err != nil {
				fmt.Fprintf(w, "  %s\n    %v\n", lang, err)
			}
			return ExitConfigError
		}
		langs = []string{lang}
	} else {
		for _, l := range cfg.Languages() {
			if cfg.Configured(l) {
				langs = append(langs, l)
			}
		}
		fmt.Fprintf(w, "literate-lsp health check\n\n")
	}

	results := probeAll(cfg, langs, logger)

	failed := 0
	for _, res := range results {
		if res.err != nil {
			failed++
			fmt.Fprintf(w, "  ✗ %s (%s)\n    %v\n", res.lang, res.command, res.err)
			continue
		}
		fmt.Fprintf(w, "  ✓ %s (%s)\n    path: %s\n", res.lang, res.command, res.path)
	}

	if failed > 0 {
		return ExitUnhealthy
	}
	return ExitOK
}

// probeAll runs the per-language probes with bounded concurrency and
// returns results in language order.
func probeAll(cfg *config.Config, langs []string, logger *zap.Logger) []result {
	var mu sync.Mutex
	results := make([]result, 0, len(langs))

	g := new(errgroup.Group)
	g.SetLimit(probeConcurrency)
	for _, lang := range langs {
		lang := lang
		g.Go(func() error {
			res := probe(cfg, lang, logger)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].lang < results[j].lang })
	return results
}

// probe verifies one child: the command resolves in PATH, the process
// spawns, and initialize completes.
func probe(cfg *config.Config, lang string, logger *zap.Logger) result {
	server, err := cfg.Resolve(lang)
	if err != nil {
		return result{lang: lang, err: err}
	}

	res := result{lang: lang, command: server.Command}

	path, err := exec.LookPath(server.Command)
	if err != nil {
		res.err = fmt.Errorf("not found in PATH")
		return res
	}
	res.path = path

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	probe := child.NewServer(lang, server, logger)
	if err := probe.Start(ctx, ""); err != nil {
		res.err = fmt.Errorf("initialize failed: %w", err)
		return res
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelShutdown()
	_ = probe.Shutdown(shutdownCtx)

	return res
}

// Languages prints the configured table.
func Languages(cfg *config.Config, w io.Writer) int {
	langs := cfg.Languages()
	if len(langs) == 0 {
		fmt.Fprintln(w, "  (no languages configured)")
		return ExitOK
	}

	fmt.Fprintf(w, "configured languages:\n\n")
	for _, lang := range langs {
		server, err := cfg.Resolve(lang)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "  %s → %s", lang, server.Command)
		for _, arg := range server.Args {
			fmt.Fprintf(w, " %s", arg)
		}
		fmt.Fprintln(w)
	}
	return ExitOK
}
