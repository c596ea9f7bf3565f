package child

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/literate-lsp/internal/config"
	"github.com/dshills/literate-lsp/internal/protocol"
)

// BackoffConfig controls respawn pacing after a crash.
type BackoffConfig struct {
	// Initial is the delay before the first respawn attempt.
	Initial time.Duration

	// Max caps the delay between attempts.
	Max time.Duration

	// Multiplier grows the delay after each consecutive failure.
	Multiplier float64

	// ResetWindow is how long the child must stay up for the failure
	// count to reset.
	ResetWindow time.Duration
}

// DefaultBackoff matches the crash policy: at most one respawn per
// five seconds, growing exponentially to a minute.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:     5 * time.Second,
		Max:         60 * time.Second,
		Multiplier:  2.0,
		ResetWindow: 5 * time.Minute,
	}
}

// Backoff returns the delay before respawn attempt n (1-based).
func Backoff(attempt int, cfg BackoffConfig) time.Duration {
	if attempt <= 1 {
		return cfg.Initial
	}
	delay := float64(cfg.Initial) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.Max) {
		return cfg.Max
	}
	return time.Duration(delay)
}

// CrashHandler is invoked when the child exits unexpectedly or fails
// to start, before any respawn attempt. The router fails outstanding
// requests and clears published diagnostics here.
type CrashHandler func(lang string, err error)

// RecoverHandler is invoked after a successful respawn, once the new
// process is Ready. The router re-opens the affected virtual
// documents here.
type RecoverHandler func(lang string)

// Supervisor owns the current Server for one language and replaces it
// after crashes. Start returns as soon as the process is launched; the
// initialize handshake completes in the background while outbound
// messages queue on the Server, so the editor loop never waits on a
// spawning child.
type Supervisor struct {
	lang    string
	cfg     config.Server
	backoff BackoffConfig
	rootURI protocol.DocumentURI
	logger  *zap.Logger

	mu        sync.Mutex
	server    *Server
	attempts  int
	lastStart time.Time

	onMessage MessageHandler
	onCrash   CrashHandler
	onRecover RecoverHandler

	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSupervisor creates a supervisor; Start spawns the first process.
func NewSupervisor(lang string, cfg config.Server, backoff BackoffConfig, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		lang:    lang,
		cfg:     cfg,
		backoff: backoff,
		logger:  logger.With(zap.String("lang", lang)),
	}
}

// OnMessage registers the inbound handler passed to each Server.
func (sv *Supervisor) OnMessage(h MessageHandler) { sv.onMessage = h }

// OnCrash registers the crash callback.
func (sv *Supervisor) OnCrash(h CrashHandler) { sv.onCrash = h }

// OnRecover registers the post-respawn callback.
func (sv *Supervisor) OnRecover(h RecoverHandler) { sv.onRecover = h }

// Start launches the supervision loop. It never blocks on the child's
// handshake; spawn failures surface through the crash callback and the
// respawn schedule.
func (sv *Supervisor) Start(ctx context.Context, rootURI protocol.DocumentURI) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.server != nil {
		return &ChildError{Lang: sv.lang, Err: ErrAlreadyStarted}
	}

	sv.ctx, sv.cancel = context.WithCancel(ctx)
	sv.rootURI = rootURI

	server := sv.newServerLocked()
	go sv.run(server, false)
	return nil
}

// newServerLocked builds and registers a fresh Server. Caller holds mu.
func (sv *Supervisor) newServerLocked() *Server {
	server := NewServer(sv.lang, sv.cfg, sv.logger)
	if sv.onMessage != nil {
		server.OnMessage(sv.onMessage)
	}
	sv.server = server
	sv.lastStart = time.Now()
	return server
}

// run is the supervision loop: start the server, wait for it to die,
// back off, replace it. Exits when the supervisor stops.
func (sv *Supervisor) run(server *Server, isRespawn bool) {
	for {
		err := server.Start(sv.ctx, sv.rootURI)
		if err == nil {
			if isRespawn {
				sv.logger.Info("child recovered")
				if sv.onRecover != nil {
					sv.onRecover(sv.lang)
				}
			}

			select {
			case <-sv.ctx.Done():
				return
			case exitErr := <-server.Exited():
				if sv.stopped.Load() || server.State() == StateShutDown {
					return
				}
				err = exitErr
			}
		}

		if sv.stopped.Load() {
			return
		}
		if sv.onCrash != nil {
			sv.onCrash(sv.lang, err)
		}

		sv.mu.Lock()
		// A child that stayed up past the reset window earns a fresh
		// backoff schedule for its next crash.
		if time.Since(sv.lastStart) > sv.backoff.ResetWindow {
			sv.attempts = 0
		}
		sv.attempts++
		attempt := sv.attempts
		sv.mu.Unlock()

		delay := Backoff(attempt, sv.backoff)
		sv.logger.Warn("child died, respawning",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay))

		select {
		case <-sv.ctx.Done():
			return
		case <-time.After(delay):
		}
		if sv.stopped.Load() {
			return
		}

		sv.mu.Lock()
		server = sv.newServerLocked()
		sv.mu.Unlock()
		isRespawn = true
	}
}

// Send forwards a serialized message to the current server. Messages
// sent while the child is still initializing queue in order.
func (sv *Supervisor) Send(payload []byte) error {
	sv.mu.Lock()
	server := sv.server
	sv.mu.Unlock()

	if server == nil {
		return &ChildError{Lang: sv.lang, Err: ErrChildUnavailable}
	}
	return server.Send(payload)
}

// NextID allocates a request id on the current server.
func (sv *Supervisor) NextID() (int64, error) {
	sv.mu.Lock()
	server := sv.server
	sv.mu.Unlock()

	if server == nil || server.State() == StateCrashed || server.State() == StateShutDown {
		return 0, &ChildError{Lang: sv.lang, Err: ErrChildUnavailable}
	}
	return server.NextID(), nil
}

// Ready reports whether the current server completed its handshake.
func (sv *Supervisor) Ready() bool {
	sv.mu.Lock()
	server := sv.server
	sv.mu.Unlock()
	return server != nil && server.State() == StateReady
}

// Capabilities returns the current server's advertised capabilities.
func (sv *Supervisor) Capabilities() (protocol.ServerCapabilities, bool) {
	sv.mu.Lock()
	server := sv.server
	sv.mu.Unlock()

	if server == nil || server.State() != StateReady {
		return protocol.ServerCapabilities{}, false
	}
	return server.Capabilities(), true
}

// Lang returns the supervised language.
func (sv *Supervisor) Lang() string { return sv.lang }

// Stop shuts the child down and disables respawning.
func (sv *Supervisor) Stop(ctx context.Context) error {
	if sv.stopped.Swap(true) {
		return nil
	}

	sv.mu.Lock()
	server := sv.server
	sv.server = nil
	sv.mu.Unlock()

	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}
	if sv.cancel != nil {
		sv.cancel()
	}
	return err
}
