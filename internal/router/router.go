// Package router is the proxy's central state machine. It classifies
// every message crossing the proxy, correlates requests with
// responses, rewrites URIs and positions in both directions, fans
// document sync out to the children, and fans diagnostics back in.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/dshills/literate-lsp/internal/child"
	"github.com/dshills/literate-lsp/internal/config"
	"github.com/dshills/literate-lsp/internal/document"
	"github.com/dshills/literate-lsp/internal/protocol"
)

// broadcastDeadline bounds fan-out collection for workspace-scoped
// requests; responses arriving later are discarded.
const broadcastDeadline = 2 * time.Second

// maxBroadcastResults caps merged workspace/symbol lists.
const maxBroadcastResults = 256

// EditorWriter delivers a message to the editor stream.
type EditorWriter func(msg *protocol.Message) error

// pendingKey identifies a request in flight to one child.
type pendingKey struct {
	lang string
	id   int64
}

// pendingRequest is a correlation-table entry: the editor id to echo,
// the mapping context to reverse-translate with, and optional
// broadcast bookkeeping.
type pendingRequest struct {
	editorID    json.RawMessage
	method      string
	hostURI     protocol.DocumentURI
	lang        string
	hostVersion int
	cancelled   bool
	group       *broadcastGroup
}

// broadcastGroup collects fan-out responses until all children answer
// or the deadline passes.
type broadcastGroup struct {
	mu        sync.Mutex
	editorID  json.RawMessage
	method    string
	remaining int
	results   []any
	done      bool
	timer     *time.Timer
}

// Router wires the document store, the child manager, and the editor
// stream together.
type Router struct {
	cfg      *config.Config
	docs     *document.Store
	children *child.Manager
	logger   *zap.Logger
	write    EditorWriter

	mu         sync.Mutex
	pending    map[pendingKey]*pendingRequest
	byEditorID map[string]pendingKey

	diags *diagnosticSet
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// New creates a router. The editor writer must be set with SetWriter
// before any traffic flows.
func New(cfg *config.Config, docs *document.Store, children *child.Manager, opts ...Option) *Router {
	r := &Router{
		cfg:        cfg,
		docs:       docs,
		children:   children,
		logger:     zap.NewNop(),
		pending:    make(map[pendingKey]*pendingRequest),
		byEditorID: make(map[string]pendingKey),
		diags:      newDiagnosticSet(),
	}
	for _, opt := range opts {
		opt(r)
	}

	children.OnMessage(r.HandleChildMessage)
	children.OnCrash(r.HandleCrash)
	children.OnRecover(r.HandleRecover)
	return r
}

// SetWriter installs the editor-out channel.
func (r *Router) SetWriter(w EditorWriter) { r.write = w }

// --- editor → proxy ---

// HandleEditorMessage processes one message from the editor. Lifecycle
// methods (initialize, shutdown, exit) are the session's business and
// never reach here.
func (r *Router) HandleEditorMessage(msg *protocol.Message) {
	switch {
	case msg.IsNotification():
		r.handleEditorNotification(msg)
	case msg.IsRequest():
		r.handleEditorRequest(msg)
	default:
		// Responses from the editor answer server-initiated requests,
		// which the proxy never issues.
		r.logger.Debug("ignoring editor response", zap.String("id", string(msg.ID)))
	}
}

func (r *Router) handleEditorNotification(msg *protocol.Message) {
	switch msg.Method {
	case "textDocument/didOpen":
		var p protocol.DidOpenTextDocumentParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			r.logger.Warn("malformed didOpen", zap.Error(err))
			return
		}
		events, err := r.docs.Open(p.TextDocument.URI, p.TextDocument.Text)
		if err != nil {
			r.logger.Warn("didOpen rejected", zap.String("uri", string(p.TextDocument.URI)), zap.Error(err))
			return
		}
		r.forwardEvents(events)

	case "textDocument/didChange":
		var p protocol.DidChangeTextDocumentParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			r.logger.Warn("malformed didChange", zap.Error(err))
			return
		}
		events, err := r.docs.Change(p.TextDocument.URI, p.ContentChanges)
		if err != nil {
			r.logger.Warn("didChange rejected", zap.String("uri", string(p.TextDocument.URI)), zap.Error(err))
			return
		}
		r.forwardEvents(events)

	case "textDocument/didClose":
		var p protocol.DidCloseTextDocumentParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			r.logger.Warn("malformed didClose", zap.Error(err))
			return
		}
		events, err := r.docs.Close(p.TextDocument.URI)
		if err != nil {
			r.logger.Warn("didClose rejected", zap.String("uri", string(p.TextDocument.URI)), zap.Error(err))
			return
		}
		r.forwardEvents(events)
		r.diags.clearHost(p.TextDocument.URI)
		r.publishDiagnostics(p.TextDocument.URI, nil)

	case "$/cancelRequest":
		r.handleCancel(msg.Params)

	default:
		r.logger.Debug("dropping editor notification", zap.String("method", msg.Method))
	}
}

// forwardEvents turns store events into child notifications, spawning
// children lazily for open/change and never for close.
func (r *Router) forwardEvents(events []document.Event) {
	for _, ev := range events {
		var sv *child.Supervisor
		var err error

		if ev.Kind == document.EventClose {
			var ok bool
			sv, ok = r.children.Lookup(ev.Lang)
			if !ok {
				continue
			}
		} else {
			sv, err = r.children.Get(ev.Lang)
			if err != nil {
				if errors.Is(err, config.ErrNoServerConfigured) || errors.Is(err, config.ErrForbiddenLanguage) {
					r.logger.Debug("no child for language", zap.String("lang", ev.Lang))
				} else {
					r.logger.Warn("child unavailable for sync", zap.String("lang", ev.Lang), zap.Error(err))
				}
				continue
			}
		}

		note, err := syncNotification(ev)
		if err != nil {
			r.logger.Warn("building sync notification failed", zap.Error(err))
			continue
		}
		payload, err := json.Marshal(note)
		if err != nil {
			continue
		}
		if err := sv.Send(payload); err != nil {
			r.logger.Warn("forwarding sync failed",
				zap.String("lang", ev.Lang), zap.Stringer("kind", ev.Kind), zap.Error(err))
		}
	}
}

// syncNotification builds the child-facing didOpen/didChange/didClose
// for a store event.
func syncNotification(ev document.Event) (*protocol.Message, error) {
	switch ev.Kind {
	case document.EventOpen:
		return protocol.NewNotification("textDocument/didOpen", protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        ev.VirtualURI,
				LanguageID: ev.Lang,
				Version:    ev.Version,
				Text:       ev.Text,
			},
		})
	case document.EventChange:
		return protocol.NewNotification("textDocument/didChange", protocol.DidChangeTextDocumentParams{
			TextDocument: protocol.VersionedTextDocumentIdentifier{
				TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: ev.VirtualURI},
				Version:                ev.Version,
			},
			ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: ev.Text}},
		})
	case document.EventClose:
		return protocol.NewNotification("textDocument/didClose", protocol.DidCloseTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: ev.VirtualURI},
		})
	default:
		return nil, fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

func (r *Router) handleEditorRequest(msg *protocol.Message) {
	kind, forwarded := forwardedMethods[msg.Method]
	if !forwarded {
		switch msg.Method {
		case "workspace/symbol", "workspace/executeCommand":
			r.broadcast(msg)
		default:
			// Not a method the proxy advertises; answer the empty value
			// rather than an error so editors keep the session healthy.
			r.logger.Debug("unhandled editor request", zap.String("method", msg.Method))
			r.reply(msg.ID, emptyResult(msg.Method))
		}
		return
	}

	hostURI := protocol.DocumentURI(gjson.GetBytes(msg.Params, "textDocument.uri").String())

	lang, ok := r.targetLanguage(hostURI, msg.Params, kind)
	if !ok {
		// Prose, a fence line, or an empty document: empty success,
		// never an error, and no child is contacted.
		r.reply(msg.ID, emptyResult(msg.Method))
		return
	}

	snap, ok := r.docs.Snapshot(hostURI, lang)
	if !ok {
		r.reply(msg.ID, emptyResult(msg.Method))
		return
	}

	sv, err := r.children.Get(lang)
	if err != nil {
		if errors.Is(err, config.ErrNoServerConfigured) || errors.Is(err, config.ErrForbiddenLanguage) {
			r.reply(msg.ID, emptyResult(msg.Method))
		} else {
			r.replyError(msg.ID, protocol.CodeInternalError,
				fmt.Sprintf("language server for %s unavailable: %v", lang, err))
		}
		return
	}

	params, err := rewriteRequest(msg.Params, kind, snap.VirtualURI, snap.Map)
	if err != nil {
		if errors.Is(err, document.ErrOutsideBlock) {
			r.reply(msg.ID, emptyResult(msg.Method))
		} else {
			r.replyError(msg.ID, protocol.CodeInternalError, err.Error())
		}
		return
	}

	childID, err := sv.NextID()
	if err != nil {
		r.replyError(msg.ID, protocol.CodeInternalError,
			fmt.Sprintf("language server for %s unavailable", lang))
		return
	}

	key := pendingKey{lang: lang, id: childID}
	r.mu.Lock()
	r.pending[key] = &pendingRequest{
		editorID:    msg.ID,
		method:      msg.Method,
		hostURI:     hostURI,
		lang:        lang,
		hostVersion: snap.HostVersion,
	}
	r.byEditorID[string(msg.ID)] = key
	r.mu.Unlock()

	req, _ := protocol.NewRequest(childID, msg.Method, json.RawMessage(params))
	payload, err := json.Marshal(req)
	if err == nil {
		err = sv.Send(payload)
	}
	if err != nil {
		r.dropPending(key)
		r.replyError(msg.ID, protocol.CodeInternalError,
			fmt.Sprintf("forwarding to %s failed: %v", lang, err))
	}
}

// targetLanguage finds the language owning a request's position.
func (r *Router) targetLanguage(hostURI protocol.DocumentURI, params json.RawMessage, kind requestKind) (string, bool) {
	switch kind {
	case kindPosition:
		return r.docs.LanguageAt(hostURI, positionFromJSON(gjson.GetBytes(params, "position")))
	case kindRange:
		rng := rangeFromJSON(gjson.GetBytes(params, "range"))
		if lang, ok := r.docs.LanguageAt(hostURI, rng.Start); ok {
			return lang, true
		}
		return r.docs.LanguageAt(hostURI, rng.End)
	case kindPositions:
		first := gjson.GetBytes(params, "positions.0")
		if !first.Exists() {
			return "", false
		}
		return r.docs.LanguageAt(hostURI, positionFromJSON(first))
	case kindDocument:
		langs := r.docs.LanguagesInOrder(hostURI)
		if len(langs) == 0 {
			return "", false
		}
		return langs[0], true
	}
	return "", false
}

// handleCancel forwards $/cancelRequest with the child-scoped id and
// answers the editor immediately; the eventual child response is
// dropped.
func (r *Router) handleCancel(params json.RawMessage) {
	editorID := gjson.GetBytes(params, "id").Raw
	if editorID == "" {
		return
	}

	r.mu.Lock()
	key, ok := r.byEditorID[editorID]
	if !ok {
		r.mu.Unlock()
		return
	}
	p := r.pending[key]
	// Drop the entry now; the child's eventual response finds nothing
	// and is discarded.
	delete(r.pending, key)
	delete(r.byEditorID, editorID)
	r.mu.Unlock()

	if p == nil {
		return
	}

	if sv, ok := r.children.Lookup(key.lang); ok {
		cancel, _ := protocol.NewNotification("$/cancelRequest", map[string]int64{"id": key.id})
		if payload, err := json.Marshal(cancel); err == nil {
			_ = sv.Send(payload)
		}
	}

	r.replyError(p.editorID, protocol.CodeRequestCancelled, "request cancelled")
}

// --- child → proxy ---

// HandleChildMessage processes one message from a child's stream.
func (r *Router) HandleChildMessage(lang string, raw json.RawMessage) {
	msg, err := protocol.DecodeMessage(raw)
	if err != nil {
		r.logger.Warn("malformed child message", zap.String("lang", lang), zap.Error(err))
		return
	}

	switch {
	case msg.IsResponse():
		r.handleChildResponse(lang, msg)
	case msg.IsNotification():
		r.handleChildNotification(lang, msg)
	case msg.IsRequest():
		r.handleChildRequest(lang, msg)
	}
}

func (r *Router) handleChildResponse(lang string, msg *protocol.Message) {
	id, err := strconv.ParseInt(string(msg.ID), 10, 64)
	if err != nil {
		r.logger.Debug("child response with non-numeric id", zap.String("lang", lang))
		return
	}

	key := pendingKey{lang: lang, id: id}
	r.mu.Lock()
	p, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
		delete(r.byEditorID, string(p.editorID))
	}
	r.mu.Unlock()

	if !ok || p.cancelled {
		// Late response to a cancelled or crashed-out request.
		return
	}

	if p.group != nil {
		r.collectBroadcast(p, msg)
		return
	}

	if msg.Error != nil {
		r.writeEditor(&protocol.Message{JSONRPC: "2.0", ID: p.editorID, Error: msg.Error})
		return
	}

	r.reply(p.editorID, r.translateResult(p, msg.Result))
}

// translateResult reverse-maps a child result against the current
// block structure. Using the live map rather than the issue-time map
// means results that an intervening edit pushed out of every block
// disappear, which is exactly the staleness policy: payloads without
// positions (hover contents) survive, positional payloads that no
// longer land in a block are filtered.
func (r *Router) translateResult(p *pendingRequest, result json.RawMessage) json.RawMessage {
	if len(result) == 0 || string(result) == "null" {
		return json.RawMessage("null")
	}

	snap, ok := r.docs.Snapshot(p.hostURI, p.lang)
	if !ok {
		return emptyResult(p.method)
	}

	var decoded any
	if err := json.Unmarshal(result, &decoded); err != nil {
		r.logger.Warn("undecodable child result", zap.String("method", p.method), zap.Error(err))
		return emptyResult(p.method)
	}

	rm := &resultMapper{resolve: r.resolveVirtual, defaultMap: snap.Map}
	mapped, ok := rm.MapResult(p.method, decoded)
	if !ok {
		return emptyResult(p.method)
	}

	out, err := json.Marshal(mapped)
	if err != nil {
		return emptyResult(p.method)
	}
	return out
}

// resolveVirtual is the resultMapper's URI oracle: any open virtual
// URI maps back to its host and current block map; every other URI is
// a real file that passes through untouched.
func (r *Router) resolveVirtual(uri protocol.DocumentURI) (protocol.DocumentURI, *document.BlockMap, bool) {
	host, lang, ok := r.docs.ResolveVirtual(uri)
	if !ok {
		return "", nil, false
	}
	snap, ok := r.docs.Snapshot(host, lang)
	if !ok {
		return "", nil, false
	}
	return host, snap.Map, true
}

func (r *Router) handleChildNotification(lang string, msg *protocol.Message) {
	switch msg.Method {
	case "textDocument/publishDiagnostics":
		r.handleChildDiagnostics(lang, msg.Params)
	case "window/logMessage", "window/showMessage", "$/progress", "telemetry/event":
		r.logger.Debug("child notification", zap.String("lang", lang), zap.String("method", msg.Method))
	default:
		r.logger.Debug("dropping child notification", zap.String("lang", lang), zap.String("method", msg.Method))
	}
}

// handleChildDiagnostics translates one child's diagnostics to host
// coordinates, merges them with the other languages' sets, and
// republishes under the host URI.
func (r *Router) handleChildDiagnostics(lang string, params json.RawMessage) {
	var p protocol.PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		r.logger.Warn("malformed publishDiagnostics", zap.String("lang", lang), zap.Error(err))
		return
	}

	host, owner, ok := r.docs.ResolveVirtual(p.URI)
	if !ok {
		// Diagnostics for a document that has since closed.
		return
	}
	snap, ok := r.docs.Snapshot(host, owner)
	if !ok {
		return
	}

	translated := make([]protocol.Diagnostic, 0, len(p.Diagnostics))
	for _, diag := range p.Diagnostics {
		// A diagnostic spanning several blocks becomes one diagnostic
		// per block; one that maps nowhere is dropped.
		for _, hr := range snap.Map.RangeToHost(diag.Range) {
			d := diag
			d.Range = hr
			if d.Source == "" {
				d.Source = owner
			}
			translated = append(translated, d)
		}
	}

	merged := r.diags.set(host, owner, translated)
	r.publishDiagnostics(host, merged)
}

func (r *Router) publishDiagnostics(host protocol.DocumentURI, diags []protocol.Diagnostic) {
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}
	note, err := protocol.NewNotification("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI:         host,
		Diagnostics: diags,
	})
	if err != nil {
		return
	}
	r.writeEditor(note)
}

// handleChildRequest answers server-initiated requests the proxy can
// satisfy and politely declines the rest.
func (r *Router) handleChildRequest(lang string, msg *protocol.Message) {
	sv, ok := r.children.Lookup(lang)
	if !ok {
		return
	}

	var resp *protocol.Message
	switch msg.Method {
	case "workspace/configuration":
		n := int(gjson.GetBytes(msg.Params, "items.#").Int())
		settings := make([]any, n)
		if server, err := r.cfg.Resolve(lang); err == nil && server.Settings != nil {
			for i := range settings {
				settings[i] = server.Settings
			}
		}
		resp, _ = protocol.NewResponse(msg.ID, settings)
	case "client/registerCapability", "client/unregisterCapability",
		"window/workDoneProgress/create":
		resp, _ = protocol.NewResponse(msg.ID, nil)
	case "window/showMessageRequest":
		resp, _ = protocol.NewResponse(msg.ID, nil)
	default:
		resp = protocol.NewErrorResponse(msg.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("method %s not supported by proxy", msg.Method))
	}

	if payload, err := json.Marshal(resp); err == nil {
		_ = sv.Send(payload)
	}
}

// --- crash / recovery ---

// HandleCrash fails every outstanding request to the crashed child and
// retracts its diagnostics so the editor is not left staring at
// reports no server stands behind.
func (r *Router) HandleCrash(lang string, err error) {
	r.logger.Warn("child crashed", zap.String("lang", lang), zap.Error(err))

	r.mu.Lock()
	var failed []*pendingRequest
	for key, p := range r.pending {
		if key.lang != lang {
			continue
		}
		delete(r.pending, key)
		delete(r.byEditorID, string(p.editorID))
		failed = append(failed, p)
	}
	r.mu.Unlock()

	for _, p := range failed {
		if p.cancelled {
			continue
		}
		if p.group != nil {
			r.collectBroadcast(p, nil)
			continue
		}
		r.replyError(p.editorID, protocol.CodeInternalError,
			fmt.Sprintf("language server for %s crashed", lang))
	}

	for host, merged := range r.diags.clearLang(lang) {
		r.publishDiagnostics(host, merged)
	}
}

// HandleRecover re-opens every live virtual document of the language
// on the respawned child. Versions restart at 1: the new process has
// never seen these documents.
func (r *Router) HandleRecover(lang string) {
	sv, ok := r.children.Lookup(lang)
	if !ok {
		return
	}

	for _, snap := range r.docs.SnapshotsForLanguage(lang) {
		note, err := protocol.NewNotification("textDocument/didOpen", protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        snap.VirtualURI,
				LanguageID: lang,
				Version:    1,
				Text:       snap.Text,
			},
		})
		if err != nil {
			continue
		}
		if payload, err := json.Marshal(note); err == nil {
			if err := sv.Send(payload); err != nil {
				r.logger.Warn("re-open after respawn failed",
					zap.String("lang", lang), zap.String("uri", string(snap.VirtualURI)), zap.Error(err))
			}
		}
	}
}

// --- broadcast fan-out ---

// broadcast forwards a workspace-scoped request to every Ready child
// and merges the responses that arrive before the deadline.
func (r *Router) broadcast(msg *protocol.Message) {
	langs := r.children.ReadyLanguages()
	if len(langs) == 0 {
		r.reply(msg.ID, emptyResult(msg.Method))
		return
	}

	group := &broadcastGroup{
		editorID:  msg.ID,
		method:    msg.Method,
		remaining: len(langs),
	}
	group.timer = time.AfterFunc(broadcastDeadline, func() { r.finalizeBroadcast(group) })

	for _, lang := range langs {
		sv, ok := r.children.Lookup(lang)
		if !ok {
			r.collectBroadcastSlot(group)
			continue
		}
		childID, err := sv.NextID()
		if err != nil {
			r.collectBroadcastSlot(group)
			continue
		}

		key := pendingKey{lang: lang, id: childID}
		r.mu.Lock()
		r.pending[key] = &pendingRequest{
			editorID: msg.ID,
			method:   msg.Method,
			lang:     lang,
			group:    group,
		}
		r.mu.Unlock()

		req, _ := protocol.NewRequest(childID, msg.Method, msg.Params)
		payload, err := json.Marshal(req)
		if err == nil {
			err = sv.Send(payload)
		}
		if err != nil {
			r.dropPending(key)
			r.collectBroadcastSlot(group)
		}
	}
}

// collectBroadcast folds one child's response into its group. A nil
// msg counts the slot without contributing results.
func (r *Router) collectBroadcast(p *pendingRequest, msg *protocol.Message) {
	group := p.group

	if msg != nil && msg.Error == nil && len(msg.Result) > 0 && string(msg.Result) != "null" {
		var decoded any
		if err := json.Unmarshal(msg.Result, &decoded); err == nil {
			rm := &resultMapper{resolve: r.resolveVirtual}
			if mapped, ok := rm.MapResult(p.method, decoded); ok && mapped != nil {
				group.mu.Lock()
				group.results = append(group.results, mapped)
				group.mu.Unlock()
			}
		}
	}

	r.collectBroadcastSlot(group)
}

// collectBroadcastSlot counts down one expected response and finishes
// the group when every child has reported.
func (r *Router) collectBroadcastSlot(group *broadcastGroup) {
	group.mu.Lock()
	group.remaining--
	finished := group.remaining <= 0 && !group.done
	group.mu.Unlock()

	if finished {
		group.timer.Stop()
		r.finalizeBroadcast(group)
	}
}

// finalizeBroadcast merges whatever arrived and answers the editor.
// Runs at most once per group.
func (r *Router) finalizeBroadcast(group *broadcastGroup) {
	group.mu.Lock()
	if group.done {
		group.mu.Unlock()
		return
	}
	group.done = true
	results := group.results
	group.mu.Unlock()

	// Purge correlation entries for children that never answered so
	// their late responses are discarded.
	r.mu.Lock()
	for key, p := range r.pending {
		if p.group == group {
			delete(r.pending, key)
			delete(r.byEditorID, string(p.editorID))
		}
	}
	r.mu.Unlock()

	switch group.method {
	case "workspace/symbol":
		merged := make([]any, 0)
		for _, res := range results {
			if list, ok := res.([]any); ok {
				merged = append(merged, list...)
			}
		}
		if len(merged) > maxBroadcastResults {
			merged = merged[:maxBroadcastResults]
		}
		out, err := json.Marshal(merged)
		if err != nil {
			out = emptyResult(group.method)
		}
		r.reply(group.editorID, out)

	default: // workspace/executeCommand: first usable result wins.
		for _, res := range results {
			if out, err := json.Marshal(res); err == nil {
				r.reply(group.editorID, out)
				return
			}
		}
		r.reply(group.editorID, json.RawMessage("null"))
	}
}

// --- plumbing ---

func (r *Router) dropPending(key pendingKey) {
	r.mu.Lock()
	if p, ok := r.pending[key]; ok {
		delete(r.pending, key)
		delete(r.byEditorID, string(p.editorID))
	}
	r.mu.Unlock()
}

// PendingCount reports the correlation-table size, for tests and the
// no-leak invariant.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) reply(id json.RawMessage, result json.RawMessage) {
	resp, err := protocol.NewResponse(id, result)
	if err != nil {
		return
	}
	r.writeEditor(resp)
}

func (r *Router) replyError(id json.RawMessage, code int, message string) {
	r.writeEditor(protocol.NewErrorResponse(id, code, message))
}

func (r *Router) writeEditor(msg *protocol.Message) {
	if r.write == nil {
		return
	}
	if err := r.write(msg); err != nil {
		r.logger.Warn("writing to editor failed", zap.Error(err))
	}
}
