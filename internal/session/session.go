// Package session drives the editor-facing side of the proxy: the
// stdio server loop, the initialize handshake, capability
// advertisement, and teardown of the child fleet on shutdown.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/literate-lsp/internal/child"
	"github.com/dshills/literate-lsp/internal/protocol"
	"github.com/dshills/literate-lsp/internal/router"
)

// ErrEditorStream wraps a fatal framing failure on the editor side;
// the process exits rather than trying to resynchronize.
var ErrEditorStream = errors.New("editor stream unusable")

// outBufferSize bounds the editor-out queue. Each queued message
// corresponds to an outstanding request or a diagnostic push, both of
// which editors keep bounded, so the writer never truly blocks the
// reader.
const outBufferSize = 4096

// shutdownTimeout bounds child teardown on proxy shutdown.
const shutdownTimeout = 5 * time.Second

// Session is one editor connection.
type Session struct {
	framer   *protocol.Framer
	router   *router.Router
	children *child.Manager
	logger   *zap.Logger

	out chan *protocol.Message

	initialized bool
	shutdown    bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// New creates a session over the given editor streams.
func New(in io.Reader, out io.Writer, rt *router.Router, children *child.Manager, opts ...Option) *Session {
	s := &Session{
		framer:   protocol.NewFramer(in, out),
		router:   rt,
		children: children,
		logger:   zap.NewNop(),
		out:      make(chan *protocol.Message, outBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}

	rt.SetWriter(func(msg *protocol.Message) error {
		s.out <- msg
		return nil
	})
	return s
}

// Run serves the session until the editor sends exit, closes its
// stream, or the stream fails. The returned error is nil on a clean
// exit after shutdown.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	// Writer task: the single consumer of the editor-out queue.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				// Flush whatever was queued before the reader stopped.
				for {
					select {
					case msg := <-s.out:
						if err := s.framer.WriteMessage(msg); err != nil {
							return nil
						}
					default:
						return nil
					}
				}
			case msg := <-s.out:
				if err := s.framer.WriteMessage(msg); err != nil {
					return fmt.Errorf("editor write: %w", err)
				}
			}
		}
	})

	// Reader task: applies editor messages in receipt order.
	g.Go(func() error {
		defer cancel()
		return s.readLoop(ctx)
	})

	err := g.Wait()

	// Tear down whatever children are still running, whether the exit
	// was polite or the editor vanished.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if serr := s.children.Shutdown(shutdownCtx); serr != nil {
		s.logger.Warn("child teardown incomplete", zap.Error(serr))
	}

	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		raw, err := s.framer.ReadMessage()
		if err != nil {
			if err == io.EOF {
				s.logger.Info("editor closed the stream")
				return nil
			}
			if protocol.IsFramingError(err) {
				// The editor channel cannot recover from a framing
				// error; exit the session.
				return fmt.Errorf("%w: %v", ErrEditorStream, err)
			}
			return err
		}

		msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			s.logger.Warn("discarding malformed editor message", zap.Error(err))
			continue
		}

		if done := s.dispatch(msg); done {
			return nil
		}
	}
}

// dispatch handles lifecycle methods locally and hands everything else
// to the router. Returns true when the session should end.
func (s *Session) dispatch(msg *protocol.Message) bool {
	switch msg.Method {
	case "initialize":
		s.handleInitialize(msg)
		return false

	case "initialized":
		return false

	case "shutdown":
		s.shutdown = true
		s.respond(msg.ID, nil)
		return false

	case "exit":
		if !s.shutdown {
			s.logger.Warn("exit without shutdown")
		}
		return true

	default:
		if !s.initialized {
			if msg.IsRequest() {
				s.out <- protocol.NewErrorResponse(msg.ID,
					protocol.CodeServerNotInitialized, "server not initialized")
			}
			return false
		}
		if s.shutdown && msg.IsRequest() {
			s.out <- protocol.NewErrorResponse(msg.ID,
				protocol.CodeInvalidRequest, "server is shutting down")
			return false
		}
		s.router.HandleEditorMessage(msg)
		return false
	}
}

// handleInitialize answers the editor handshake. The advertised
// capabilities are the union of what any configured child could
// provide; per-request gating happens downstream against the actual
// child.
func (s *Session) handleInitialize(msg *protocol.Message) {
	var params protocol.InitializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("malformed initialize params", zap.Error(err))
		}
	}

	rootURI := params.RootURI
	if rootURI == "" && len(params.WorkspaceFolders) > 0 {
		rootURI = params.WorkspaceFolders[0].URI
	}
	s.children.SetRootURI(rootURI)

	result := protocol.InitializeResult{
		Capabilities: s.capabilities(),
		ServerInfo: &protocol.ServerInfo{
			Name:    "literate-lsp",
			Version: "0.2.0",
		},
	}
	s.initialized = true
	s.respond(msg.ID, result)
}

// capabilities builds the advertised set.
func (s *Session) capabilities() protocol.ServerCapabilities {
	return protocol.ServerCapabilities{
		TextDocumentSync: int(protocol.TextDocumentSyncKindFull),
		CompletionProvider: &protocol.CompletionOptions{
			TriggerCharacters: s.children.TriggerCharacters(),
		},
		HoverProvider:                   true,
		DeclarationProvider:             true,
		DefinitionProvider:              true,
		TypeDefinitionProvider:          true,
		ImplementationProvider:          true,
		ReferencesProvider:              true,
		DocumentHighlightProvider:       true,
		DocumentSymbolProvider:          true,
		WorkspaceSymbolProvider:         true,
		CodeActionProvider:              true,
		DocumentFormattingProvider:      true,
		DocumentRangeFormattingProvider: true,
		RenameProvider:                  true,
		FoldingRangeProvider:            true,
		SelectionRangeProvider:          true,
	}
}

func (s *Session) respond(id json.RawMessage, result any) {
	resp, err := protocol.NewResponse(id, result)
	if err != nil {
		s.logger.Warn("building response failed", zap.Error(err))
		return
	}
	s.out <- resp
}

// WasShutdown reports whether the editor completed the polite
// shutdown/exit pair, for the process exit code.
func (s *Session) WasShutdown() bool { return s.shutdown }
