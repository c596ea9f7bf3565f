package document

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/literate-lsp/internal/protocol"
)

// Store errors.
var (
	ErrNotOpen     = errors.New("document not open")
	ErrAlreadyOpen = errors.New("document already open")
)

// EventKind classifies a virtual-document sync event.
type EventKind int

const (
	EventOpen EventKind = iota
	EventChange
	EventClose
)

// String returns a human-readable event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventChange:
		return "change"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event describes one virtual-document notification the router must
// forward to the child serving Lang. A single host mutation yields at
// most one event per language. Open and Change list the languages
// present in the host in first-appearance order; events for languages
// no longer present, and all Close events, come in no particular order.
type Event struct {
	Kind       EventKind
	HostURI    protocol.DocumentURI
	Lang       string
	VirtualURI protocol.DocumentURI
	Version    int
	Text       string
}

// Snapshot is an immutable view of one virtual document at a host
// version, used to translate a request and later its response.
type Snapshot struct {
	HostURI     protocol.DocumentURI
	HostVersion int
	Lang        string
	VirtualURI  protocol.DocumentURI
	Version     int
	Text        string
	Map         *BlockMap
}

// Store holds every open host document with its parsed blocks and
// derived virtual documents. Different host URIs are independent;
// mutation of a single host is serialized by a per-host lock.
type Store struct {
	mu      sync.RWMutex
	hosts   map[protocol.DocumentURI]*hostDoc
	byVirt  map[protocol.DocumentURI]virtKey
	extFor  func(lang string) string
	mirror  bool
	virtDir string
	logger  *zap.Logger
}

type virtKey struct {
	host protocol.DocumentURI
	lang string
}

type hostDoc struct {
	mu       sync.Mutex
	uri      protocol.DocumentURI
	format   Format
	text     string
	version  int
	blocks   []Block
	virtuals map[string]*virtualDoc
}

type virtualDoc struct {
	lang     string
	uri      protocol.DocumentURI
	version  int
	text     string
	blockMap *BlockMap
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithExtensionResolver supplies the language → file extension lookup
// used for virtual URI synthesis.
func WithExtensionResolver(fn func(lang string) string) StoreOption {
	return func(s *Store) { s.extFor = fn }
}

// WithMirror materializes virtual documents on disk under dir, kept in
// sync before any event is returned. Some language servers stat or
// read the file behind a URI; the mirror keeps them working.
func WithMirror(dir string) StoreOption {
	return func(s *Store) {
		s.mirror = true
		s.virtDir = dir
	}
}

// WithVirtualDir sets the directory used in synthesized virtual URIs
// without materializing files.
func WithVirtualDir(dir string) StoreOption {
	return func(s *Store) { s.virtDir = dir }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates an empty document store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		hosts:   make(map[protocol.DocumentURI]*hostDoc),
		byVirt:  make(map[protocol.DocumentURI]virtKey),
		extFor:  func(string) string { return "txt" },
		virtDir: os.TempDir(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open registers a host document and derives virtual documents for
// every language present. The host version starts at 1, as does each
// virtual version.
func (s *Store) Open(uri protocol.DocumentURI, text string) ([]Event, error) {
	format, _ := FormatForURI(uri)

	s.mu.Lock()
	if _, exists := s.hosts[uri]; exists {
		s.mu.Unlock()
		return nil, ErrAlreadyOpen
	}
	h := &hostDoc{
		uri:      uri,
		format:   format,
		virtuals: make(map[string]*virtualDoc),
	}
	s.hosts[uri] = h
	s.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.text = text
	h.version = 1
	h.blocks = Parse(text, format)

	var events []Event
	for _, lang := range Languages(h.blocks) {
		ev, err := s.createVirtualLocked(h, lang)
		if err != nil {
			s.logger.Warn("virtual document setup failed",
				zap.String("lang", lang), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Change applies edits to a host document, re-parses it, and reports
// which virtual documents changed. Full-text replacement is forwarded
// for changed languages; languages whose virtual text is unchanged
// produce no event.
func (s *Store) Change(uri protocol.DocumentURI, changes []protocol.TextDocumentContentChangeEvent) ([]Event, error) {
	h, ok := s.host(uri)
	if !ok {
		return nil, ErrNotOpen
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.text = ApplyChanges(h.text, changes)
	h.version++
	h.blocks = Parse(h.text, h.format)

	var events []Event

	// Languages present now, in document order; then languages that
	// vanished from the document but still have an open virtual doc.
	current := Languages(h.blocks)
	seen := make(map[string]bool, len(current))
	for _, lang := range current {
		seen[lang] = true
		v, exists := h.virtuals[lang]
		if !exists {
			ev, err := s.createVirtualLocked(h, lang)
			if err != nil {
				s.logger.Warn("virtual document setup failed",
					zap.String("lang", lang), zap.Error(err))
				continue
			}
			events = append(events, ev)
			continue
		}
		if ev, changed := s.updateVirtualLocked(h, v); changed {
			events = append(events, ev)
		}
	}
	for lang, v := range h.virtuals {
		if seen[lang] {
			continue
		}
		// Last block of this language was deleted: the virtual document
		// stays open with empty content until the host closes.
		if ev, changed := s.updateVirtualLocked(h, v); changed {
			events = append(events, ev)
		}
	}

	return events, nil
}

// Close drops a host document and all its virtual documents, returning
// the didClose events to forward.
func (s *Store) Close(uri protocol.DocumentURI) ([]Event, error) {
	s.mu.Lock()
	h, ok := s.hosts[uri]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}
	delete(s.hosts, uri)
	s.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	var events []Event
	for _, v := range h.virtuals {
		events = append(events, Event{
			Kind:       EventClose,
			HostURI:    h.uri,
			Lang:       v.lang,
			VirtualURI: v.uri,
			Version:    v.version,
		})
		s.mu.Lock()
		delete(s.byVirt, v.uri)
		s.mu.Unlock()
		s.removeMirror(v.uri)
	}
	h.virtuals = make(map[string]*virtualDoc)
	return events, nil
}

// LanguageAt returns the language of the block containing a host
// position, or ok=false when the position is outside every block.
func (s *Store) LanguageAt(uri protocol.DocumentURI, pos protocol.Position) (string, bool) {
	h, ok := s.host(uri)
	if !ok {
		return "", false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := BlockAt(h.blocks, pos)
	if !ok || b.Lang == "" {
		return "", false
	}
	return b.Lang, true
}

// Snapshot returns the current state of one (host, language) virtual
// document.
func (s *Store) Snapshot(uri protocol.DocumentURI, lang string) (Snapshot, bool) {
	h, ok := s.host(uri)
	if !ok {
		return Snapshot{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	v, ok := h.virtuals[lang]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotLocked(h, v), true
}

// ResolveVirtual maps a virtual URI back to its (host, language) pair.
func (s *Store) ResolveVirtual(uri protocol.DocumentURI) (protocol.DocumentURI, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byVirt[uri]
	return k.host, k.lang, ok
}

// SnapshotsForLanguage returns the open virtual documents of one
// language across all hosts, used to re-open documents after a child
// respawn. Hosts that no longer contain blocks of the language are
// skipped.
func (s *Store) SnapshotsForLanguage(lang string) []Snapshot {
	s.mu.RLock()
	hosts := make([]*hostDoc, 0, len(s.hosts))
	for _, h := range s.hosts {
		hosts = append(hosts, h)
	}
	s.mu.RUnlock()

	var snaps []Snapshot
	for _, h := range hosts {
		h.mu.Lock()
		if v, ok := h.virtuals[lang]; ok && v.blockMap.VirtualLines() > 0 {
			snaps = append(snaps, snapshotLocked(h, v))
		}
		h.mu.Unlock()
	}
	return snaps
}

// HostVersion returns the current version of an open host document.
func (s *Store) HostVersion(uri protocol.DocumentURI) (int, bool) {
	h, ok := s.host(uri)
	if !ok {
		return 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version, true
}

// HostText returns the current text of an open host document.
func (s *Store) HostText(uri protocol.DocumentURI) (string, bool) {
	h, ok := s.host(uri)
	if !ok {
		return "", false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.text, true
}

// LanguagesInOrder returns the languages present in the host document
// in first-appearance order. Document-scoped requests with no position
// (documentSymbol, formatting) target the first language.
func (s *Store) LanguagesInOrder(uri protocol.DocumentURI) []string {
	h, ok := s.host(uri)
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return Languages(h.blocks)
}

// OpenLanguages returns the languages with a live virtual document for
// the given host.
func (s *Store) OpenLanguages(uri protocol.DocumentURI) []string {
	h, ok := s.host(uri)
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	langs := make([]string, 0, len(h.virtuals))
	for lang := range h.virtuals {
		langs = append(langs, lang)
	}
	return langs
}

// --- internals ---

func (s *Store) host(uri protocol.DocumentURI) (*hostDoc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hosts[uri]
	return h, ok
}

func snapshotLocked(h *hostDoc, v *virtualDoc) Snapshot {
	return Snapshot{
		HostURI:     h.uri,
		HostVersion: h.version,
		Lang:        v.lang,
		VirtualURI:  v.uri,
		Version:     v.version,
		Text:        v.text,
		Map:         v.blockMap,
	}
}

// createVirtualLocked builds a new virtual document for lang. Caller
// holds h.mu.
func (s *Store) createVirtualLocked(h *hostDoc, lang string) (Event, error) {
	uri := s.virtualURI(h.uri, lang)
	v := &virtualDoc{
		lang:     lang,
		uri:      uri,
		version:  1,
		text:     renderVirtual(h.blocks, lang),
		blockMap: NewBlockMap(h.blocks, lang),
	}
	h.virtuals[lang] = v

	s.mu.Lock()
	s.byVirt[uri] = virtKey{host: h.uri, lang: lang}
	s.mu.Unlock()

	if err := s.writeMirror(uri, v.text); err != nil {
		return Event{}, err
	}

	return Event{
		Kind:       EventOpen,
		HostURI:    h.uri,
		Lang:       lang,
		VirtualURI: uri,
		Version:    v.version,
		Text:       v.text,
	}, nil
}

// updateVirtualLocked refreshes a virtual document after a host edit.
// Caller holds h.mu. The map is rebuilt unconditionally; an event is
// produced only when the text changed.
func (s *Store) updateVirtualLocked(h *hostDoc, v *virtualDoc) (Event, bool) {
	text := renderVirtual(h.blocks, v.lang)
	v.blockMap = NewBlockMap(h.blocks, v.lang)
	if text == v.text {
		return Event{}, false
	}
	v.text = text
	v.version++

	if err := s.writeMirror(v.uri, v.text); err != nil {
		s.logger.Warn("mirror update failed",
			zap.String("uri", string(v.uri)), zap.Error(err))
	}

	return Event{
		Kind:       EventChange,
		HostURI:    h.uri,
		Lang:       v.lang,
		VirtualURI: v.uri,
		Version:    v.version,
		Text:       v.text,
	}, true
}

// renderVirtual concatenates the content of all blocks of one language
// in document order. Each non-empty block's lines are terminated by a
// newline, which doubles as the single-newline separator between
// consecutive blocks and as the final newline.
func renderVirtual(blocks []Block, lang string) string {
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Lang != lang || blk.Lines() == 0 {
			continue
		}
		b.WriteString(blk.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// virtualURI synthesizes the stable URI for a (host, language) pair:
// file:///<dir>/virtual-<hash>.<ext> with the hash derived from the
// host URI and the language tag, neither of which an edit changes, so
// edits never move the virtual document.
func (s *Store) virtualURI(host protocol.DocumentURI, lang string) protocol.DocumentURI {
	sum := sha256.Sum256([]byte(string(host) + "\x00" + lang))
	name := fmt.Sprintf("virtual-%s.%s", hex.EncodeToString(sum[:6]), s.extFor(lang))
	p := filepath.ToSlash(filepath.Join(s.virtDir, name))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return protocol.DocumentURI("file://" + p)
}

func (s *Store) writeMirror(uri protocol.DocumentURI, text string) error {
	if !s.mirror {
		return nil
	}
	return os.WriteFile(mirrorPath(uri), []byte(text), 0o644)
}

func (s *Store) removeMirror(uri protocol.DocumentURI) {
	if !s.mirror {
		return
	}
	_ = os.Remove(mirrorPath(uri))
}

func mirrorPath(uri protocol.DocumentURI) string {
	return filepath.FromSlash(strings.TrimPrefix(string(uri), "file://"))
}
