package router

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/literate-lsp/internal/document"
	"github.com/dshills/literate-lsp/internal/protocol"
)

// requestKind describes where a forwarded method carries positions.
type requestKind int

const (
	kindPosition  requestKind = iota // params.position
	kindRange                        // params.range
	kindPositions                    // params.positions (selectionRange)
	kindDocument                     // document-scoped, no position
)

// forwardedMethods are the editor requests routed to a single child,
// with the shape of their position payload.
var forwardedMethods = map[string]requestKind{
	"textDocument/hover":                kindPosition,
	"textDocument/definition":           kindPosition,
	"textDocument/declaration":          kindPosition,
	"textDocument/typeDefinition":       kindPosition,
	"textDocument/implementation":       kindPosition,
	"textDocument/references":           kindPosition,
	"textDocument/documentHighlight":    kindPosition,
	"textDocument/completion":           kindPosition,
	"textDocument/signatureHelp":        kindPosition,
	"textDocument/prepareRename":        kindPosition,
	"textDocument/rename":               kindPosition,
	"textDocument/codeAction":           kindRange,
	"textDocument/rangeFormatting":      kindRange,
	"textDocument/semanticTokens/range": kindRange,
	"textDocument/selectionRange":       kindPositions,
	"textDocument/foldingRange":         kindDocument,
	"textDocument/documentSymbol":       kindDocument,
	"textDocument/formatting":           kindDocument,
}

// emptyResult is the schema-correct empty success value for a method
// the proxy answers locally (position outside any block, or no child
// configured).
func emptyResult(method string) json.RawMessage {
	switch method {
	case "textDocument/completion":
		return json.RawMessage(`{"isIncomplete":false,"items":[]}`)
	case "textDocument/references", "textDocument/documentSymbol",
		"textDocument/codeAction", "textDocument/foldingRange",
		"textDocument/selectionRange", "workspace/symbol":
		return json.RawMessage(`[]`)
	default:
		return json.RawMessage(`null`)
	}
}

// rewriteRequest translates a request's params from host to virtual
// coordinates: the textDocument URI is replaced and every position the
// method carries is mapped. A position that falls outside a block fails
// with document.ErrOutsideBlock; a range is clamped to the blocks it
// touches and fails with document.ErrOutsideBlock only when it touches
// none.
func rewriteRequest(params json.RawMessage, kind requestKind, virtualURI protocol.DocumentURI, m *document.BlockMap) (json.RawMessage, error) {
	out, err := sjson.SetBytes(params, "textDocument.uri", string(virtualURI))
	if err != nil {
		return nil, fmt.Errorf("rewrite uri: %w", err)
	}

	switch kind {
	case kindPosition:
		return rewritePositionField(out, "position", m)

	case kindRange:
		r := rangeFromJSON(gjson.GetBytes(out, "range"))
		mapped, err := m.RangeToVirtual(r)
		if err != nil {
			return nil, err
		}
		return setRange(out, "range", mapped)

	case kindPositions:
		n := int(gjson.GetBytes(out, "positions.#").Int())
		for i := 0; i < n; i++ {
			path := fmt.Sprintf("positions.%d", i)
			var err error
			out, err = rewritePositionField(out, path, m)
			if err != nil {
				return nil, err
			}
		}
		return out, nil

	case kindDocument:
		return out, nil
	}

	return out, nil
}

func rewritePositionField(data []byte, path string, m *document.BlockMap) ([]byte, error) {
	p := positionFromJSON(gjson.GetBytes(data, path))
	mapped, err := m.ToVirtual(p)
	if err != nil {
		return nil, err
	}
	data, err = sjson.SetBytes(data, path+".line", mapped.Line)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(data, path+".character", mapped.Character)
}

func setRange(data []byte, path string, r protocol.Range) ([]byte, error) {
	data, err := sjson.SetBytes(data, path+".start.line", r.Start.Line)
	if err != nil {
		return nil, err
	}
	data, err = sjson.SetBytes(data, path+".start.character", r.Start.Character)
	if err != nil {
		return nil, err
	}
	data, err = sjson.SetBytes(data, path+".end.line", r.End.Line)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(data, path+".end.character", r.End.Character)
}

func positionFromJSON(v gjson.Result) protocol.Position {
	return protocol.Position{
		Line:      int(v.Get("line").Int()),
		Character: int(v.Get("character").Int()),
	}
}

func rangeFromJSON(v gjson.Result) protocol.Range {
	return protocol.Range{
		Start: positionFromJSON(v.Get("start")),
		End:   positionFromJSON(v.Get("end")),
	}
}

// virtualResolver maps a virtual URI to its host URI and block map.
// Responses may reference any open virtual document, not only the one
// the request targeted.
type virtualResolver func(uri protocol.DocumentURI) (protocol.DocumentURI, *document.BlockMap, bool)

// resultMapper reverse-translates a child response payload. Positions
// and ranges that belong to a virtual document are mapped back to host
// coordinates; locations in unrelated files pass through untouched;
// items whose positions no longer fall inside a block are dropped.
type resultMapper struct {
	resolve virtualResolver

	// Coordinates with no URI context (hover ranges, text edits,
	// document symbols) belong to the request's own virtual document.
	defaultMap *document.BlockMap
}

// MapResult translates a decoded result value. ok=false means the
// whole result is unusable and the editor gets the method's empty
// value instead.
func (rm *resultMapper) MapResult(method string, result any) (any, bool) {
	if result == nil {
		return nil, true
	}

	switch method {
	case "textDocument/hover":
		return rm.mapHover(result)
	case "textDocument/foldingRange":
		return rm.mapFoldingRanges(result)
	case "textDocument/semanticTokens/range", "textDocument/semanticTokens/full":
		return rm.mapSemanticTokens(result)
	default:
		return rm.walk(result, rm.defaultMap)
	}
}

// walk recursively translates a value. m is the block map governing
// bare positions at this point in the tree; it switches when a uri
// field changes the document context.
func (rm *resultMapper) walk(v any, m *document.BlockMap) (any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return rm.walkObject(val, m)
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			mapped, ok := rm.walk(item, m)
			if !ok {
				// Item no longer maps inside a block: filter it out.
				continue
			}
			out = append(out, mapped)
		}
		return out, true
	default:
		return v, true
	}
}

func (rm *resultMapper) walkObject(obj map[string]any, m *document.BlockMap) (any, bool) {
	// Position object: exactly line + character.
	if p, ok := asPosition(obj); ok {
		if m == nil {
			return obj, true
		}
		mapped, err := m.ToHost(p)
		if err != nil {
			return nil, false
		}
		return map[string]any{"line": float64(mapped.Line), "character": float64(mapped.Character)}, true
	}

	// A uri field switches document context for the whole object,
	// including its range siblings and children.
	ctx := m
	if uriVal, ok := obj["uri"].(string); ok {
		host, vm, isVirtual := rm.resolve(protocol.DocumentURI(uriVal))
		if isVirtual {
			obj["uri"] = string(host)
			ctx = vm
		} else {
			// A real file elsewhere (stdlib, dependency): leave its
			// coordinates alone.
			ctx = nil
		}
	}
	// LocationLink uses targetUri instead of uri.
	if uriVal, ok := obj["targetUri"].(string); ok {
		host, vm, isVirtual := rm.resolve(protocol.DocumentURI(uriVal))
		if isVirtual {
			obj["targetUri"] = string(host)
			ctx = vm
		} else {
			ctx = nil
		}
	}

	for key, child := range obj {
		mapped, ok := rm.walk(child, ctx)
		if !ok {
			return nil, false
		}
		obj[key] = mapped
	}
	return obj, true
}

// mapHover translates a hover result: contents pass through verbatim;
// the optional range is mapped, and silently dropped when it no longer
// maps (stale hover is still useful).
func (rm *resultMapper) mapHover(result any) (any, bool) {
	obj, ok := result.(map[string]any)
	if !ok {
		return result, true
	}
	if rngVal, exists := obj["range"]; exists {
		mapped, ok := rm.walk(rngVal, rm.defaultMap)
		if ok {
			obj["range"] = mapped
		} else {
			delete(obj, "range")
		}
	}
	return obj, true
}

// mapFoldingRanges translates foldingRange items, which carry bare
// startLine/endLine fields rather than position objects. Ranges that
// leave the block structure are dropped.
func (rm *resultMapper) mapFoldingRanges(result any) (any, bool) {
	items, ok := result.([]any)
	if !ok {
		return result, true
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		start, sok := asInt(obj["startLine"])
		end, eok := asInt(obj["endLine"])
		if !sok || !eok {
			continue
		}
		hs, err1 := rm.defaultMap.ToHost(protocol.Position{Line: start})
		he, err2 := rm.defaultMap.ToHost(protocol.Position{Line: end})
		if err1 != nil || err2 != nil {
			continue
		}
		// A fold crossing block boundaries would swallow prose.
		if he.Line-hs.Line != end-start {
			continue
		}
		obj["startLine"] = float64(hs.Line)
		obj["endLine"] = float64(he.Line)
		out = append(out, obj)
	}
	return out, true
}

// mapSemanticTokens re-encodes the delta-encoded token array in host
// coordinates. Tokens on lines that no longer map are dropped, and the
// deltas are rebuilt around the survivors.
func (rm *resultMapper) mapSemanticTokens(result any) (any, bool) {
	obj, ok := result.(map[string]any)
	if !ok {
		return result, true
	}
	data, ok := obj["data"].([]any)
	if !ok || len(data)%5 != 0 {
		return obj, true
	}

	type token struct {
		line, start, length, typ, mods int
	}

	// Decode deltas to absolute virtual coordinates.
	var decoded []token
	line, start := 0, 0
	for i := 0; i+4 < len(data); i += 5 {
		dl, ok1 := asInt(data[i])
		ds, ok2 := asInt(data[i+1])
		ln, ok3 := asInt(data[i+2])
		ty, ok4 := asInt(data[i+3])
		mo, ok5 := asInt(data[i+4])
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
			return obj, true
		}
		line += dl
		if dl > 0 {
			start = 0
		}
		start += ds
		decoded = append(decoded, token{line, start, ln, ty, mo})
	}

	// Map to host coordinates, dropping unmappable lines.
	var mapped []token
	for _, tk := range decoded {
		hp, err := rm.defaultMap.ToHost(protocol.Position{Line: tk.line, Character: tk.start})
		if err != nil {
			continue
		}
		mapped = append(mapped, token{hp.Line, hp.Character, tk.length, tk.typ, tk.mods})
	}

	// Re-encode as deltas.
	out := make([]any, 0, len(mapped)*5)
	prevLine, prevStart := 0, 0
	for _, tk := range mapped {
		dl := tk.line - prevLine
		ds := tk.start
		if dl == 0 {
			ds = tk.start - prevStart
		}
		out = append(out,
			float64(dl), float64(ds), float64(tk.length), float64(tk.typ), float64(tk.mods))
		prevLine, prevStart = tk.line, tk.start
	}
	obj["data"] = out
	return obj, true
}

func asPosition(obj map[string]any) (protocol.Position, bool) {
	if len(obj) != 2 {
		return protocol.Position{}, false
	}
	line, ok1 := asInt(obj["line"])
	char, ok2 := asInt(obj["character"])
	if !ok1 || !ok2 {
		return protocol.Position{}, false
	}
	return protocol.Position{Line: line, Character: char}, true
}

func asInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
