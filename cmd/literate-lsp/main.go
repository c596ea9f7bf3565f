// Package main is the entry point for the literate-lsp proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/literate-lsp/internal/child"
	"github.com/dshills/literate-lsp/internal/config"
	"github.com/dshills/literate-lsp/internal/document"
	"github.com/dshills/literate-lsp/internal/health"
	"github.com/dshills/literate-lsp/internal/router"
	"github.com/dshills/literate-lsp/internal/session"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	configPath  string
	logLevel    string
	healthCheck bool
	languages   bool
	noMirror    bool
	showVersion bool
	healthLang  string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("literate-lsp %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := config.LoadLayered(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: configuration: %v\n", err)
		return 1
	}

	if opts.languages {
		return health.Languages(cfg, os.Stdout)
	}

	logger, err := newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: logging: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if opts.healthCheck {
		return health.Check(cfg, opts.healthLang, os.Stdout, logger)
	}

	return serve(cfg, logger, opts.noMirror)
}

// serve runs the stdio LSP session until the editor disconnects.
func serve(cfg *config.Config, logger *zap.Logger, noMirror bool) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Virtual documents are mirrored into a per-session temp directory
	// so children that stat the path behind a URI keep working. Cleaned
	// on exit; nothing else persists.
	mirrorDir, err := os.MkdirTemp("", "literate-lsp-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: temp directory: %v\n", err)
		return 1
	}
	defer os.RemoveAll(mirrorDir)

	mirrorOpt := document.WithMirror(mirrorDir)
	if noMirror {
		mirrorOpt = document.WithVirtualDir(mirrorDir)
	}
	store := document.NewStore(
		document.WithExtensionResolver(cfg.Extension),
		mirrorOpt,
		document.WithStoreLogger(logger),
	)
	children := child.NewManager(ctx, cfg, child.WithManagerLogger(logger))
	rt := router.New(cfg, store, children, router.WithLogger(logger))
	sess := session.New(os.Stdin, os.Stdout, rt, children, session.WithLogger(logger))

	logger.Info("literate-lsp starting",
		zap.String("version", version),
		zap.Strings("languages", cfg.Languages()))

	if err := sess.Run(ctx); err != nil {
		if errors.Is(err, session.ErrEditorStream) {
			logger.Error("editor stream failed", zap.Error(err))
		} else {
			logger.Error("session ended with error", zap.Error(err))
		}
		return 1
	}

	if !sess.WasShutdown() {
		return 1
	}
	return 0
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.configPath, "config", "", "path to a languages.toml (replaces user/project layers)")
	flag.StringVar(&opts.logLevel, "log", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&opts.healthCheck, "health", false, "probe configured language servers and exit")
	flag.BoolVar(&opts.languages, "languages", false, "list configured languages and exit")
	flag.BoolVar(&opts.noMirror, "no-mirror", false, "do not materialize virtual documents on disk")
	flag.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: literate-lsp [flags] [LANG]\n\n")
		fmt.Fprintf(os.Stderr, "An LSP proxy that serves fenced code blocks in literate documents\n")
		fmt.Fprintf(os.Stderr, "by delegating to per-language child servers over stdio.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	// --health accepts an optional language argument.
	if opts.healthCheck && flag.NArg() > 0 {
		opts.healthLang = flag.Arg(0)
	}

	return opts
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, err
	}

	// Stdout carries the LSP stream; everything observable goes to
	// stderr.
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if os.Getenv("LITERATE_LSP_DEBUG") != "" {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.OutputPaths = []string{"stderr"}
	}

	return cfg.Build()
}
