package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dshills/literate-lsp/internal/child"
	"github.com/dshills/literate-lsp/internal/config"
	"github.com/dshills/literate-lsp/internal/document"
	"github.com/dshills/literate-lsp/internal/protocol"
	"github.com/dshills/literate-lsp/internal/router"
)

// frame encodes one message with the base-protocol header.
func frame(t *testing.T, payload string) string {
	t.Helper()
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(payload), payload)
}

// scriptedEditor builds an input stream of pre-framed messages.
func scriptedEditor(t *testing.T, payloads ...string) io.Reader {
	t.Helper()
	var sb strings.Builder
	for _, p := range payloads {
		sb.WriteString(frame(t, p))
	}
	return strings.NewReader(sb.String())
}

// newTestSession wires a full proxy over in-memory streams with an
// empty child table, so no processes spawn.
func newTestSession(t *testing.T, in io.Reader) (*Session, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{Language: map[string]config.Server{}}
	store := document.NewStore(
		document.WithExtensionResolver(func(lang string) string { return lang }),
		document.WithVirtualDir(t.TempDir()),
	)
	children := child.NewManager(context.Background(), cfg)
	rt := router.New(cfg, store, children)

	var out bytes.Buffer
	return New(in, &out, rt, children), &out
}

// readFrames decodes every message written to the editor stream.
func readFrames(t *testing.T, out *bytes.Buffer) []*protocol.Message {
	t.Helper()
	f := protocol.NewFramer(bytes.NewReader(out.Bytes()), io.Discard)

	var msgs []*protocol.Message
	for {
		raw, err := f.ReadMessage()
		if err == io.EOF {
			return msgs
		}
		if err != nil {
			t.Fatalf("reading editor output: %v", err)
		}
		msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			t.Fatalf("decoding editor output: %v", err)
		}
		msgs = append(msgs, msg)
	}
}

func runSession(t *testing.T, s *Session) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Run(ctx)
}

func TestSession_Handshake(t *testing.T) {
	in := scriptedEditor(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"rootUri":"file:///proj"}}`,
		`{"jsonrpc":"2.0","method":"initialized","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"shutdown"}`,
		`{"jsonrpc":"2.0","method":"exit"}`,
	)
	s, out := newTestSession(t, in)

	if err := runSession(t, s); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if !s.WasShutdown() {
		t.Error("WasShutdown() = false after polite shutdown")
	}

	msgs := readFrames(t, out)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(msgs))
	}

	// Initialize response advertises the proxy's capability union.
	var init protocol.InitializeResult
	if err := json.Unmarshal(msgs[0].Result, &init); err != nil {
		t.Fatalf("initialize result: %v", err)
	}
	if init.ServerInfo == nil || init.ServerInfo.Name != "literate-lsp" {
		t.Errorf("serverInfo = %+v", init.ServerInfo)
	}
	if sync, ok := init.Capabilities.TextDocumentSync.(float64); !ok || int(sync) != int(protocol.TextDocumentSyncKindFull) {
		t.Errorf("textDocumentSync = %v, want full", init.Capabilities.TextDocumentSync)
	}
	if !protocol.HasCapability(init.Capabilities.HoverProvider) {
		t.Error("hover not advertised")
	}
	if init.Capabilities.CompletionProvider == nil ||
		len(init.Capabilities.CompletionProvider.TriggerCharacters) == 0 {
		t.Error("completion trigger characters not advertised")
	}

	// Shutdown response is null with the request id.
	if string(msgs[1].ID) != "2" {
		t.Errorf("shutdown response id = %s", msgs[1].ID)
	}
	if string(msgs[1].Result) != "null" {
		t.Errorf("shutdown result = %s", msgs[1].Result)
	}
}

func TestSession_RequestBeforeInitialize(t *testing.T) {
	in := scriptedEditor(t,
		`{"jsonrpc":"2.0","id":1,"method":"textDocument/hover","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"shutdown"}`,
		`{"jsonrpc":"2.0","method":"exit"}`,
	)
	s, out := newTestSession(t, in)

	if err := runSession(t, s); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	msgs := readFrames(t, out)
	if len(msgs) < 1 {
		t.Fatal("no response written")
	}
	if msgs[0].Error == nil || msgs[0].Error.Code != protocol.CodeServerNotInitialized {
		t.Errorf("expected ServerNotInitialized, got %+v", msgs[0].Error)
	}
}

func TestSession_CompletionOnProse(t *testing.T) {
	doc := "# Title\n\nJust prose here.\n\n```forth\n1 2 + .\n```\n"
	docJSON, _ := json.Marshal(doc)

	in := scriptedEditor(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"initialized","params":{}}`,
		`{"jsonrpc":"2.0","method":"textDocument/didOpen","params":{"textDocument":{"uri":"file:///n/d.md","languageId":"markdown","version":1,"text":`+string(docJSON)+`}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"textDocument/completion","params":{"textDocument":{"uri":"file:///n/d.md"},"position":{"line":2,"character":4}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"shutdown"}`,
		`{"jsonrpc":"2.0","method":"exit"}`,
	)
	s, out := newTestSession(t, in)

	if err := runSession(t, s); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	var completion *protocol.Message
	for _, msg := range readFrames(t, out) {
		if string(msg.ID) == "2" {
			completion = msg
		}
	}
	if completion == nil {
		t.Fatal("no completion response")
	}
	if completion.Error != nil {
		t.Fatalf("completion error = %+v", completion.Error)
	}

	var result struct {
		IsIncomplete bool  `json:"isIncomplete"`
		Items        []any `json:"items"`
	}
	if err := json.Unmarshal(completion.Result, &result); err != nil {
		t.Fatalf("completion result: %v", err)
	}
	if result.IsIncomplete || len(result.Items) != 0 {
		t.Errorf("expected empty completion list, got %s", completion.Result)
	}
}

func TestSession_EditorEOF(t *testing.T) {
	s, _ := newTestSession(t, strings.NewReader(""))

	if err := runSession(t, s); err != nil {
		t.Fatalf("Run() on EOF = %v", err)
	}
	if s.WasShutdown() {
		t.Error("WasShutdown() should be false when the editor vanishes")
	}
}

func TestSession_FramingErrorFatal(t *testing.T) {
	in := strings.NewReader("this is not an LSP frame\r\n\r\n")
	s, _ := newTestSession(t, in)

	err := runSession(t, s)
	if err == nil {
		t.Fatal("Run() should fail on an editor framing error")
	}
	if !strings.Contains(err.Error(), "editor stream") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSession_ExitWithoutShutdown(t *testing.T) {
	in := scriptedEditor(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"exit"}`,
	)
	s, _ := newTestSession(t, in)

	if err := runSession(t, s); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if s.WasShutdown() {
		t.Error("WasShutdown() = true without a shutdown request")
	}
}
