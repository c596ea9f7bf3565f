package protocol

import "encoding/json"

// DocumentURI identifies a text document, typically a file:// URI.
type DocumentURI string

// Position in a text document, zero-based. Character offsets are
// UTF-16 code units per the LSP specification.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [start, end) span within one document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a range inside a named document.
type Location struct {
	URI   DocumentURI `json:"uri"`
	Range Range       `json:"range"`
}

// TextDocumentIdentifier names a document.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// VersionedTextDocumentIdentifier names a specific version of a document.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version int `json:"version"`
}

// TextDocumentItem transfers a document from client to server.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// TextDocumentContentChangeEvent describes one content change. A nil
// Range means full-text replacement.
type TextDocumentContentChangeEvent struct {
	Range       *Range `json:"range,omitempty"`
	RangeLength int    `json:"rangeLength,omitempty"`
	Text        string `json:"text"`
}

// --- Document sync ---

// DidOpenTextDocumentParams are parameters for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams are parameters for textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// DidCloseTextDocumentParams are parameters for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// TextDocumentSyncKind defines how document changes are synced.
type TextDocumentSyncKind int

const (
	TextDocumentSyncKindNone        TextDocumentSyncKind = 0
	TextDocumentSyncKindFull        TextDocumentSyncKind = 1
	TextDocumentSyncKindIncremental TextDocumentSyncKind = 2
)

// --- Diagnostics ---

// PublishDiagnosticsParams are parameters for textDocument/publishDiagnostics.
type PublishDiagnosticsParams struct {
	URI         DocumentURI  `json:"uri"`
	Version     int          `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Diagnostic is a single report attached to a range.
type Diagnostic struct {
	Range              Range              `json:"range"`
	Severity           DiagnosticSeverity `json:"severity,omitempty"`
	Code               any                `json:"code,omitempty"`
	CodeDescription    json.RawMessage    `json:"codeDescription,omitempty"`
	Source             string             `json:"source,omitempty"`
	Message            string             `json:"message"`
	Tags               json.RawMessage    `json:"tags,omitempty"`
	RelatedInformation json.RawMessage    `json:"relatedInformation,omitempty"`
	Data               json.RawMessage    `json:"data,omitempty"`
}

// DiagnosticSeverity grades a diagnostic.
type DiagnosticSeverity int

const (
	DiagnosticSeverityError       DiagnosticSeverity = 1
	DiagnosticSeverityWarning     DiagnosticSeverity = 2
	DiagnosticSeverityInformation DiagnosticSeverity = 3
	DiagnosticSeverityHint        DiagnosticSeverity = 4
)

// --- Initialize handshake ---

// InitializeParams are the parameters of an initialize request. The
// proxy only reads a few fields of what the editor sends and builds a
// fresh set when initializing children.
type InitializeParams struct {
	ProcessID             int               `json:"processId"`
	RootURI               DocumentURI       `json:"rootUri,omitempty"`
	Capabilities          json.RawMessage   `json:"capabilities,omitempty"`
	InitializationOptions any               `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder `json:"workspaceFolders,omitempty"`
}

// WorkspaceFolder names a workspace root.
type WorkspaceFolder struct {
	URI  DocumentURI `json:"uri"`
	Name string      `json:"name"`
}

// InitializeResult is the response to initialize.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerInfo identifies the responding server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerCapabilities is the subset of capability fields the proxy
// advertises or inspects on children. Provider fields are `any`
// because LSP permits bool-or-options for most of them.
type ServerCapabilities struct {
	TextDocumentSync                any                   `json:"textDocumentSync,omitempty"`
	CompletionProvider              *CompletionOptions    `json:"completionProvider,omitempty"`
	HoverProvider                   any                   `json:"hoverProvider,omitempty"`
	SignatureHelpProvider           *SignatureHelpOptions `json:"signatureHelpProvider,omitempty"`
	DeclarationProvider             any                   `json:"declarationProvider,omitempty"`
	DefinitionProvider              any                   `json:"definitionProvider,omitempty"`
	TypeDefinitionProvider          any                   `json:"typeDefinitionProvider,omitempty"`
	ImplementationProvider          any                   `json:"implementationProvider,omitempty"`
	ReferencesProvider              any                   `json:"referencesProvider,omitempty"`
	DocumentHighlightProvider       any                   `json:"documentHighlightProvider,omitempty"`
	DocumentSymbolProvider          any                   `json:"documentSymbolProvider,omitempty"`
	WorkspaceSymbolProvider         any                   `json:"workspaceSymbolProvider,omitempty"`
	CodeActionProvider              any                   `json:"codeActionProvider,omitempty"`
	DocumentFormattingProvider      any                   `json:"documentFormattingProvider,omitempty"`
	DocumentRangeFormattingProvider any                   `json:"documentRangeFormattingProvider,omitempty"`
	RenameProvider                  any                   `json:"renameProvider,omitempty"`
	FoldingRangeProvider            any                   `json:"foldingRangeProvider,omitempty"`
	SelectionRangeProvider          any                   `json:"selectionRangeProvider,omitempty"`
	SemanticTokensProvider          json.RawMessage       `json:"semanticTokensProvider,omitempty"`
	ExecuteCommandProvider          json.RawMessage       `json:"executeCommandProvider,omitempty"`
}

// CompletionOptions configure completion support.
type CompletionOptions struct {
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
	ResolveProvider   bool     `json:"resolveProvider,omitempty"`
}

// SignatureHelpOptions configure signature help support.
type SignatureHelpOptions struct {
	TriggerCharacters   []string `json:"triggerCharacters,omitempty"`
	RetriggerCharacters []string `json:"retriggerCharacters,omitempty"`
}

// HasCapability reports whether a bool-or-options provider field is
// enabled.
func HasCapability(cap any) bool {
	switch v := cap.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true // an options object means enabled
	}
}
