package document

import (
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/dshills/literate-lsp/internal/protocol"
)

// twoBlockDoc is the canonical layout for mapping tests: two forth
// blocks with prose between them.
const twoBlockDoc = `# Forth

` + "```forth" + `
: fib ( n -- n ) dup 2 < if exit then dup 1- recurse swap 2 - recurse + ;
` + "```" + `

Some prose in between.

` + "```forth" + `
10 fib .
14 fib .
` + "```" + `
`

func buildMap(t *testing.T, text, lang string) *BlockMap {
	t.Helper()
	return NewBlockMap(Parse(text, FormatMarkdown), lang)
}

func TestBlockMap_Segments(t *testing.T) {
	m := buildMap(t, twoBlockDoc, "forth")

	segs := m.Segments()
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	// Virtual segments contiguous from 0.
	if segs[0].VirtualStart != 0 {
		t.Errorf("first segment virtual start = %d", segs[0].VirtualStart)
	}
	if segs[1].VirtualStart != segs[0].Lines {
		t.Errorf("second segment virtual start = %d, want %d", segs[1].VirtualStart, segs[0].Lines)
	}
	// Host segments strictly increasing.
	if segs[1].HostStart <= segs[0].HostStart+segs[0].Lines {
		t.Errorf("host segments overlap: %+v", segs)
	}
}

func TestBlockMap_ToVirtual(t *testing.T) {
	m := buildMap(t, twoBlockDoc, "forth")

	// First block content is host line 3, virtual line 0.
	p, err := m.ToVirtual(protocol.Position{Line: 3, Character: 2})
	if err != nil {
		t.Fatalf("ToVirtual() error = %v", err)
	}
	if p.Line != 0 || p.Character != 2 {
		t.Errorf("got %+v, want line 0 char 2", p)
	}

	// Second block's second line (host line 10) is virtual line 2:
	// one line from the first block plus one from the second.
	p, err = m.ToVirtual(protocol.Position{Line: 10, Character: 2})
	if err != nil {
		t.Fatalf("ToVirtual() error = %v", err)
	}
	if p.Line != 2 || p.Character != 2 {
		t.Errorf("got %+v, want line 2 char 2", p)
	}
}

func TestBlockMap_ToVirtual_Outside(t *testing.T) {
	m := buildMap(t, twoBlockDoc, "forth")

	outside := []int{0, 1, 2, 4, 5, 6, 7, 8, 11, 12}
	for _, line := range outside {
		if _, err := m.ToVirtual(protocol.Position{Line: line}); err != ErrOutsideBlock {
			t.Errorf("line %d: expected ErrOutsideBlock, got %v", line, err)
		}
	}
}

func TestBlockMap_ToHost(t *testing.T) {
	m := buildMap(t, twoBlockDoc, "forth")

	p, err := m.ToHost(protocol.Position{Line: 0, Character: 5})
	if err != nil {
		t.Fatalf("ToHost() error = %v", err)
	}
	if p.Line != 3 || p.Character != 5 {
		t.Errorf("got %+v, want line 3 char 5", p)
	}

	p, err = m.ToHost(protocol.Position{Line: 2, Character: 0})
	if err != nil {
		t.Fatalf("ToHost() error = %v", err)
	}
	if p.Line != 10 {
		t.Errorf("got line %d, want 10", p.Line)
	}

	// Past the last virtual line.
	if _, err := m.ToHost(protocol.Position{Line: 3}); err != ErrOutsideBlock {
		t.Errorf("expected ErrOutsideBlock, got %v", err)
	}
}

func TestBlockMap_EmptyBlock(t *testing.T) {
	m := buildMap(t, "```go\n```\n", "go")

	if m.VirtualLines() != 0 {
		t.Errorf("VirtualLines() = %d, want 0", m.VirtualLines())
	}
	if _, err := m.ToVirtual(protocol.Position{Line: 0}); err != ErrOutsideBlock {
		t.Errorf("expected ErrOutsideBlock for fence line, got %v", err)
	}
	if _, err := m.ToHost(protocol.Position{Line: 0}); err != ErrOutsideBlock {
		t.Errorf("expected ErrOutsideBlock in empty virtual doc, got %v", err)
	}
}

func TestBlockMap_RangeToVirtual_Clamp(t *testing.T) {
	m := buildMap(t, twoBlockDoc, "forth")

	// Start on the opening fence line, end inside the block: start is
	// clamped forward to the block's first line.
	r, err := m.RangeToVirtual(protocol.Range{
		Start: protocol.Position{Line: 2, Character: 0},
		End:   protocol.Position{Line: 3, Character: 4},
	})
	if err != nil {
		t.Fatalf("RangeToVirtual() error = %v", err)
	}
	if r.Start.Line != 0 || r.Start.Character != 0 {
		t.Errorf("start = %+v, want virtual 0:0", r.Start)
	}
	if r.End.Line != 0 || r.End.Character != 4 {
		t.Errorf("end = %+v", r.End)
	}

	// A range entirely in prose maps to nothing.
	if _, err := m.RangeToVirtual(protocol.Range{
		Start: protocol.Position{Line: 6},
		End:   protocol.Position{Line: 7},
	}); err == nil {
		t.Error("expected error for prose-only range")
	}
}

func TestBlockMap_RangeToHost_SplitAcrossBlocks(t *testing.T) {
	m := buildMap(t, twoBlockDoc, "forth")

	// Virtual lines 0..2 span both blocks; the host ranges must skip
	// the prose between them.
	ranges := m.RangeToHost(protocol.Range{
		Start: protocol.Position{Line: 0, Character: 0},
		End:   protocol.Position{Line: 2, Character: 4},
	})
	if len(ranges) != 2 {
		t.Fatalf("expected 2 sub-ranges, got %d: %+v", len(ranges), ranges)
	}
	if ranges[0].Start.Line != 3 || ranges[0].End.Line != 3 {
		t.Errorf("first sub-range = %+v", ranges[0])
	}
	if ranges[1].Start.Line != 9 || ranges[1].End.Line != 10 {
		t.Errorf("second sub-range = %+v", ranges[1])
	}
}

func TestBlockMap_RangeToHost_SingleSegment(t *testing.T) {
	m := buildMap(t, twoBlockDoc, "forth")

	ranges := m.RangeToHost(protocol.Range{
		Start: protocol.Position{Line: 1, Character: 0},
		End:   protocol.Position{Line: 1, Character: 6},
	})
	if len(ranges) != 1 {
		t.Fatalf("expected 1 sub-range, got %d", len(ranges))
	}
	if ranges[0].Start.Line != 9 || ranges[0].End.Line != 9 || ranges[0].End.Character != 6 {
		t.Errorf("sub-range = %+v", ranges[0])
	}
}

// genDoc builds a random markdown document interleaving prose and code
// blocks of a fixed language, returning the text.
func genDoc(t *rapid.T) string {
	var sb strings.Builder
	nBlocks := rapid.IntRange(1, 6).Draw(t, "blocks")
	for i := 0; i < nBlocks; i++ {
		nProse := rapid.IntRange(0, 4).Draw(t, "prose")
		for j := 0; j < nProse; j++ {
			sb.WriteString(fmt.Sprintf("prose %d-%d\n", i, j))
		}
		sb.WriteString("```forth\n")
		nCode := rapid.IntRange(0, 5).Draw(t, "code")
		for j := 0; j < nCode; j++ {
			sb.WriteString(fmt.Sprintf("word-%d-%d dup ;\n", i, j))
		}
		sb.WriteString("```\n")
	}
	return sb.String()
}

// Round-trip property: unmap(map(p)) == p for every position inside a
// block, and map(unmap(q)) == q for every virtual position.
func TestBlockMap_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := genDoc(t)
		blocks := Parse(text, FormatMarkdown)
		m := NewBlockMap(blocks, "forth")

		totalLines := strings.Count(text, "\n")
		line := rapid.IntRange(0, totalLines).Draw(t, "line")
		char := rapid.IntRange(0, 20).Draw(t, "char")
		p := protocol.Position{Line: line, Character: char}

		v, err := m.ToVirtual(p)
		if err != nil {
			// Outside a block: BlockAt must agree.
			if b, ok := BlockAt(blocks, p); ok && b.Lang == "forth" {
				t.Fatalf("ToVirtual failed for in-block position %+v (block %+v)", p, b)
			}
			return
		}

		back, err := m.ToHost(v)
		if err != nil {
			t.Fatalf("ToHost(%+v) failed after ToVirtual(%+v)", v, p)
		}
		if back != p {
			t.Fatalf("round trip: %+v -> %+v -> %+v", p, v, back)
		}
	})
}

func TestBlockMap_VirtualRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := genDoc(t)
		m := NewBlockMap(Parse(text, FormatMarkdown), "forth")

		if m.VirtualLines() == 0 {
			return
		}
		line := rapid.IntRange(0, m.VirtualLines()-1).Draw(t, "vline")
		q := protocol.Position{Line: line, Character: rapid.IntRange(0, 20).Draw(t, "char")}

		h, err := m.ToHost(q)
		if err != nil {
			t.Fatalf("ToHost(%+v) failed inside virtual doc", q)
		}
		back, err := m.ToVirtual(h)
		if err != nil {
			t.Fatalf("ToVirtual(%+v) failed after ToHost(%+v)", h, q)
		}
		if back != q {
			t.Fatalf("round trip: %+v -> %+v -> %+v", q, h, back)
		}
	})
}

// The virtual text invariant: concatenating block contents in order
// equals the rendered virtual document.
func TestRenderVirtual_ConcatenationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := genDoc(t)
		blocks := Parse(text, FormatMarkdown)

		var want strings.Builder
		for _, b := range blocks {
			if b.Lang != "forth" || b.Lines() == 0 {
				continue
			}
			want.WriteString(b.Content)
			want.WriteByte('\n')
		}

		got := renderVirtual(blocks, "forth")
		if got != want.String() {
			t.Fatalf("virtual text mismatch:\ngot  %q\nwant %q", got, want.String())
		}

		m := NewBlockMap(blocks, "forth")
		if lines := strings.Count(got, "\n"); lines != m.VirtualLines() {
			t.Fatalf("line count %d != map total %d", lines, m.VirtualLines())
		}
	})
}
