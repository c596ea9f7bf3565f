package child

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/literate-lsp/internal/config"
	"github.com/dshills/literate-lsp/internal/protocol"
)

// maxTriggerCharacters caps the advertised completion trigger set.
const maxTriggerCharacters = 32

// Manager is the per-language registry of supervised child servers.
// Children spawn lazily on first use and are reused across all host
// documents.
type Manager struct {
	cfg     *config.Config
	backoff BackoffConfig
	rootURI protocol.DocumentURI
	logger  *zap.Logger

	mu          sync.RWMutex
	supervisors map[string]*Supervisor

	onMessage func(lang string, raw json.RawMessage)
	onCrash   CrashHandler
	onRecover RecoverHandler

	ctx context.Context
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBackoff overrides the respawn pacing, mainly for tests.
func WithBackoff(b BackoffConfig) ManagerOption {
	return func(m *Manager) { m.backoff = b }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a manager over a resolved configuration.
func NewManager(ctx context.Context, cfg *config.Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:         cfg,
		backoff:     DefaultBackoff(),
		logger:      zap.NewNop(),
		supervisors: make(map[string]*Supervisor),
		ctx:         ctx,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetRootURI records the workspace root sent to children at initialize.
func (m *Manager) SetRootURI(uri protocol.DocumentURI) {
	m.mu.Lock()
	m.rootURI = uri
	m.mu.Unlock()
}

// OnMessage registers the handler for inbound child traffic. The
// language is prepended so the router can find the right mapping state.
func (m *Manager) OnMessage(h func(lang string, raw json.RawMessage)) { m.onMessage = h }

// OnCrash registers the crash callback applied to every child.
func (m *Manager) OnCrash(h CrashHandler) { m.onCrash = h }

// OnRecover registers the respawn callback applied to every child.
func (m *Manager) OnRecover(h RecoverHandler) { m.onRecover = h }

// Get returns the supervisor for a language, spawning it on first use.
// An unconfigured language returns config.ErrNoServerConfigured.
func (m *Manager) Get(lang string) (*Supervisor, error) {
	m.mu.RLock()
	sv, exists := m.supervisors[lang]
	m.mu.RUnlock()
	if exists {
		return sv, nil
	}

	serverCfg, err := m.cfg.Resolve(lang)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sv, exists = m.supervisors[lang]; exists {
		return sv, nil
	}

	sv = NewSupervisor(lang, serverCfg, m.backoff, m.logger)
	if m.onMessage != nil {
		sv.OnMessage(func(raw json.RawMessage) { m.onMessage(lang, raw) })
	}
	sv.OnCrash(m.onCrash)
	sv.OnRecover(m.onRecover)

	// Start is asynchronous: the supervisor is usable immediately and
	// queues traffic until the handshake completes. Spawn failures
	// surface through the crash callback.
	if err := sv.Start(m.ctx, m.rootURI); err != nil {
		m.logger.Warn("child start rejected", zap.String("lang", lang), zap.Error(err))
		return nil, err
	}

	m.supervisors[lang] = sv
	return sv, nil
}

// Lookup returns an already-running supervisor without spawning.
func (m *Manager) Lookup(lang string) (*Supervisor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sv, ok := m.supervisors[lang]
	return sv, ok
}

// ReadyLanguages lists languages whose child is Ready, sorted for
// deterministic broadcast order.
func (m *Manager) ReadyLanguages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var langs []string
	for lang, sv := range m.supervisors {
		if sv.Ready() {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)
	return langs
}

// TriggerCharacters returns the union of completion trigger characters
// across running children, capped, with configured defaults when no
// child has reported any.
func (m *Manager) TriggerCharacters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, sv := range m.supervisors {
		caps, ok := sv.Capabilities()
		if !ok || caps.CompletionProvider == nil {
			continue
		}
		for _, ch := range caps.CompletionProvider.TriggerCharacters {
			if !seen[ch] {
				seen[ch] = true
				out = append(out, ch)
			}
		}
	}

	if len(out) == 0 {
		return config.DefaultTriggerCharacters
	}
	sort.Strings(out)
	if len(out) > maxTriggerCharacters {
		out = out[:maxTriggerCharacters]
	}
	return out
}

// Shutdown stops every child: shutdown request, exit notification,
// grace period, SIGKILL.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	supervisors := make([]*Supervisor, 0, len(m.supervisors))
	for _, sv := range m.supervisors {
		supervisors = append(supervisors, sv)
	}
	m.supervisors = make(map[string]*Supervisor)
	m.mu.Unlock()

	var errs []error
	for _, sv := range supervisors {
		if err := sv.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
