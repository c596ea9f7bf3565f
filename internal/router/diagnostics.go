package router

import (
	"sort"
	"sync"

	"github.com/dshills/literate-lsp/internal/protocol"
)

// diagnosticSet aggregates diagnostics per host document across the
// contributing languages. Each child publishes against its virtual
// URI; after translation the sets are merged by union and republished
// under the host URI whenever any language's contribution changes.
type diagnosticSet struct {
	mu     sync.Mutex
	byHost map[protocol.DocumentURI]map[string][]protocol.Diagnostic
}

func newDiagnosticSet() *diagnosticSet {
	return &diagnosticSet{
		byHost: make(map[protocol.DocumentURI]map[string][]protocol.Diagnostic),
	}
}

// set replaces one language's diagnostics for a host and returns the
// merged set to publish.
func (d *diagnosticSet) set(host protocol.DocumentURI, lang string, diags []protocol.Diagnostic) []protocol.Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()

	langs, ok := d.byHost[host]
	if !ok {
		langs = make(map[string][]protocol.Diagnostic)
		d.byHost[host] = langs
	}
	if len(diags) == 0 {
		delete(langs, lang)
	} else {
		langs[lang] = diags
	}
	return d.mergedLocked(host)
}

// clearLang drops a language's diagnostics everywhere (child crash)
// and returns the merged set per affected host.
func (d *diagnosticSet) clearLang(lang string) map[protocol.DocumentURI][]protocol.Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[protocol.DocumentURI][]protocol.Diagnostic)
	for host, langs := range d.byHost {
		if _, ok := langs[lang]; !ok {
			continue
		}
		delete(langs, lang)
		out[host] = d.mergedLocked(host)
	}
	return out
}

// clearHost drops everything for a closed host.
func (d *diagnosticSet) clearHost(host protocol.DocumentURI) {
	d.mu.Lock()
	delete(d.byHost, host)
	d.mu.Unlock()
}

// mergedLocked unions all languages' diagnostics for a host, ordered
// by position then language for deterministic output. Caller holds mu.
func (d *diagnosticSet) mergedLocked(host protocol.DocumentURI) []protocol.Diagnostic {
	langs := d.byHost[host]

	merged := make([]protocol.Diagnostic, 0)
	var order []string
	for lang := range langs {
		order = append(order, lang)
	}
	sort.Strings(order)
	for _, lang := range order {
		merged = append(merged, langs[lang]...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i].Range.Start, merged[j].Range.Start
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Character < b.Character
	})
	return merged
}
