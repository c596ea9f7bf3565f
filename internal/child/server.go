package child

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/literate-lsp/internal/config"
	"github.com/dshills/literate-lsp/internal/protocol"
)

// State is the lifecycle state of a child server.
type State int32

const (
	StateSpawning State = iota
	StateInitializing
	StateReady
	StateCrashed
	StateShutDown
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateCrashed:
		return "crashed"
	case StateShutDown:
		return "shut down"
	default:
		return "unknown"
	}
}

// initializeTimeout bounds the handshake; a child that cannot answer
// initialize in this window is declared crashed.
const initializeTimeout = 10 * time.Second

// shutdownGrace is how long a child gets between exit and SIGKILL.
const shutdownGrace = 2 * time.Second

// MessageHandler receives every inbound child message that is not a
// handshake response, still serialized.
type MessageHandler func(raw json.RawMessage)

// Server is one child language-server process with its framed stdio
// streams. Stdin is single-writer (serialized by the framer); stdout
// has a single reader goroutine.
type Server struct {
	lang   string
	cfg    config.Server
	logger *zap.Logger

	mu     sync.Mutex
	state  atomic.Int32
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	framer *protocol.Framer
	queue  [][]byte // outbound messages awaiting Ready, FIFO

	nextID  atomic.Int64
	pending map[int64]chan *protocol.Message // handshake requests only

	caps protocol.ServerCapabilities

	onMessage MessageHandler

	exitOnce sync.Once
	exitCh   chan error

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server for one language (not yet started).
func NewServer(lang string, cfg config.Server, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		lang:    lang,
		cfg:     cfg,
		logger:  logger.With(zap.String("lang", lang)),
		pending: make(map[int64]chan *protocol.Message),
		exitCh:  make(chan error, 1),
	}
	s.state.Store(int32(StateSpawning))
	return s
}

// OnMessage registers the inbound handler. Must be set before Start.
func (s *Server) OnMessage(h MessageHandler) { s.onMessage = h }

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Lang returns the language this server handles.
func (s *Server) Lang() string { return s.lang }

// Capabilities returns the capabilities the child advertised during
// initialize. Valid once the server has reached Ready.
func (s *Server) Capabilities() protocol.ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// NextID allocates a child-scoped request id. The router uses the same
// counter as the handshake so ids never collide on one stream.
func (s *Server) NextID() int64 { return s.nextID.Add(1) }

// Exited fires once when the process ends for any reason, carrying the
// exit error.
func (s *Server) Exited() <-chan error { return s.exitCh }

// Start spawns the process and runs the initialize handshake. It
// returns once the server is Ready or has failed.
func (s *Server) Start(ctx context.Context, rootURI protocol.DocumentURI) error {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return &ChildError{Lang: s.lang, Err: ErrAlreadyStarted}
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.startProcessLocked(); err != nil {
		s.state.Store(int32(StateCrashed))
		s.mu.Unlock()
		return &ChildError{Lang: s.lang, Err: err}
	}
	s.state.Store(int32(StateInitializing))
	s.mu.Unlock()

	go s.readLoop()
	go s.monitorProcess()

	if err := s.initialize(rootURI); err != nil {
		s.state.Store(int32(StateCrashed))
		s.killProcess()
		return &ChildError{Lang: s.lang, Err: err}
	}

	// Flush the queue and flip to Ready under one critical section:
	// a Send racing the flush must not overtake queued messages.
	s.mu.Lock()
	for _, payload := range s.queue {
		if err := s.framer.WriteRaw(payload); err != nil {
			s.logger.Warn("flushing queued message failed", zap.Error(err))
			break
		}
	}
	s.queue = nil
	s.state.Store(int32(StateReady))
	s.mu.Unlock()

	s.logger.Info("child ready", zap.String("command", s.cfg.Command))
	return nil
}

// startProcessLocked spawns the child with piped stdio and the
// configured environment overlay. Caller holds mu.
func (s *Server) startProcessLocked() error {
	cmd := exec.CommandContext(s.ctx, s.cfg.Command, s.cfg.Args...)

	cmd.Env = os.Environ()
	for k, v := range s.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start %s: %w", s.cfg.Command, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.framer = protocol.NewFramer(stdout, stdin)

	// Drain stderr continuously: a full pipe would wedge the child.
	go s.drainStderr(stderr)

	return nil
}

func (s *Server) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Debug("child stderr", zap.String("line", scanner.Text()))
	}
}

// monitorProcess reports process exit exactly once.
func (s *Server) monitorProcess() {
	err := s.cmd.Wait()
	if s.State() != StateShutDown {
		s.state.Store(int32(StateCrashed))
	}
	s.exitOnce.Do(func() { s.exitCh <- err })
}

// readLoop dispatches inbound frames until the stream dies. A framing
// error is a crash: the stream can never resynchronize.
func (s *Server) readLoop() {
	for {
		raw, err := s.framer.ReadMessage()
		if err != nil {
			if protocol.IsFramingError(err) && s.State() != StateShutDown {
				s.logger.Warn("child stream framing error", zap.Error(err))
				s.state.Store(int32(StateCrashed))
				s.killProcess()
			}
			return
		}

		msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			s.logger.Warn("discarding malformed child message", zap.Error(err))
			continue
		}

		if msg.IsResponse() && s.deliverHandshake(msg) {
			continue
		}
		if s.onMessage != nil {
			s.onMessage(raw)
		}
	}
}

// deliverHandshake routes a response to an internal handshake call.
func (s *Server) deliverHandshake(msg *protocol.Message) bool {
	id, err := strconv.ParseInt(string(msg.ID), 10, 64)
	if err != nil {
		return false
	}

	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if ok {
		ch <- msg
	}
	return ok
}

// call issues an internal request and waits for its response.
func (s *Server) call(ctx context.Context, method string, params any) (*protocol.Message, error) {
	id := s.NextID()
	ch := make(chan *protocol.Message, 1)

	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	if err := s.framer.WriteMessage(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrChildUnavailable
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	}
}

// initialize runs the LSP handshake, records capabilities, and pushes
// configured settings.
func (s *Server) initialize(rootURI protocol.DocumentURI) error {
	ctx, cancel := context.WithTimeout(s.ctx, initializeTimeout)
	defer cancel()

	params := protocol.InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               rootURI,
		Capabilities:          clientCapabilities,
		InitializationOptions: s.cfg.InitializationOptions,
	}

	resp, err := s.call(ctx, "initialize", params)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrInitializeTimeout
		}
		return fmt.Errorf("initialize: %w", err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("initialize result: %w", err)
	}

	s.mu.Lock()
	s.caps = result.Capabilities
	s.mu.Unlock()

	initialized, _ := protocol.NewNotification("initialized", struct{}{})
	if err := s.framer.WriteMessage(initialized); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	if s.cfg.Settings != nil {
		didChange, _ := protocol.NewNotification("workspace/didChangeConfiguration",
			map[string]any{"settings": s.cfg.Settings})
		if err := s.framer.WriteMessage(didChange); err != nil {
			return fmt.Errorf("didChangeConfiguration: %w", err)
		}
	}

	return nil
}

// clientCapabilities is what the proxy claims on behalf of the editor.
// Kept modest: full-text sync, markdown-capable hover and completion.
var clientCapabilities = json.RawMessage(`{
	"textDocument": {
		"synchronization": {"didSave": false},
		"publishDiagnostics": {"relatedInformation": true, "versionSupport": true},
		"hover": {"contentFormat": ["markdown", "plaintext"]},
		"completion": {"completionItem": {"snippetSupport": true}},
		"definition": {"linkSupport": false}
	}
}`)

// Send writes one pre-serialized message to the child, queueing it in
// order if the handshake is still in progress.
func (s *Server) Send(payload []byte) error {
	s.mu.Lock()
	switch s.State() {
	case StateSpawning, StateInitializing:
		s.queue = append(s.queue, payload)
		s.mu.Unlock()
		return nil
	case StateReady:
		framer := s.framer
		s.mu.Unlock()
		return framer.WriteRaw(payload)
	default:
		s.mu.Unlock()
		return &ChildError{Lang: s.lang, Err: ErrChildUnavailable}
	}
}

// Shutdown performs the polite LSP teardown: shutdown request, exit
// notification, a short grace period, then SIGKILL.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.State() == StateShutDown {
		return nil
	}
	s.state.Store(int32(StateShutDown))

	if s.framer != nil {
		callCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
		_, _ = s.call(callCtx, "shutdown", nil)
		cancel()
		exit, _ := protocol.NewNotification("exit", nil)
		_ = s.framer.WriteMessage(exit)
	}

	select {
	case <-s.exitCh:
	case <-time.After(shutdownGrace):
		s.killProcess()
	case <-ctx.Done():
		s.killProcess()
	}

	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Kill terminates the process immediately.
func (s *Server) Kill() {
	s.state.Store(int32(StateShutDown))
	s.killProcess()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) killProcess() {
	s.mu.Lock()
	cmd := s.cmd
	stdin := s.stdin
	s.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
