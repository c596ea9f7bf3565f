package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/literate-lsp/internal/protocol"
)

func TestParse_SingleBlock(t *testing.T) {
	text := "# Title\n\n```forth\n: square ( n -- n ) dup * ;\n```\n\nprose\n"
	blocks := Parse(text, FormatMarkdown)

	require.Len(t, blocks, 1)
	b := blocks[0]
	assert.Equal(t, "forth", b.Lang)
	assert.Equal(t, 2, b.FenceStart)
	assert.Equal(t, 4, b.FenceEnd)
	assert.Equal(t, 3, b.ContentStart)
	assert.Equal(t, 4, b.ContentEnd)
	assert.Equal(t, ": square ( n -- n ) dup * ;", b.Content)
	assert.Equal(t, 1, b.Lines())
}

func TestParse_MultipleLanguages(t *testing.T) {
	text := "```rust\nfn main() {}\n```\n\n```go\npackage main\n```\n\n```rust\nmod x;\n```\n"
	blocks := Parse(text, FormatMarkdown)

	require.Len(t, blocks, 3)
	assert.Equal(t, []string{"rust", "go"}, Languages(blocks))
	assert.Equal(t, 0, blocks[0].Index)
	assert.Equal(t, 2, blocks[2].Index)
	assert.Equal(t, "rust", blocks[2].Lang)
}

func TestParse_InfoString(t *testing.T) {
	tests := []struct {
		name string
		line string
		lang string
	}{
		{"plain tag", "```go", "go"},
		{"tag with attributes", "```go linenums", "go"},
		{"uppercase normalized", "```Rust", "rust"},
		{"leading spaces in info", "```  python  ", "python"},
		{"no tag", "```", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := Parse(tt.line+"\nx\n```\n", FormatMarkdown)
			require.Len(t, blocks, 1)
			assert.Equal(t, tt.lang, blocks[0].Lang)
		})
	}
}

func TestParse_TildeFence(t *testing.T) {
	text := "~~~python\nprint('hi')\n~~~\n"
	blocks := Parse(text, FormatMarkdown)
	require.Len(t, blocks, 1)
	assert.Equal(t, "python", blocks[0].Lang)

	// Typst has no tilde fences.
	assert.Empty(t, Parse(text, FormatTypst))
}

func TestParse_NestedFences(t *testing.T) {
	// A four-backtick fence does not terminate at an inner three-backtick
	// fence; the inner fence is preserved as content.
	text := "````md\nouter\n```go\ninner\n```\n````\n"
	blocks := Parse(text, FormatMarkdown)

	require.Len(t, blocks, 1)
	assert.Equal(t, "md", blocks[0].Lang)
	assert.Equal(t, "outer\n```go\ninner\n```", blocks[0].Content)
}

func TestParse_CloseFenceLongerThanOpen(t *testing.T) {
	text := "```go\nx := 1\n`````\n"
	blocks := Parse(text, FormatMarkdown)
	require.Len(t, blocks, 1)
	assert.Equal(t, "x := 1", blocks[0].Content)
}

func TestParse_FenceCharMustMatch(t *testing.T) {
	// A tilde line does not close a backtick fence; the block stays open
	// to the end and is excluded.
	text := "```go\nx := 1\n~~~\n"
	assert.Empty(t, Parse(text, FormatMarkdown))
}

func TestParse_Unterminated(t *testing.T) {
	text := "ok\n```rust\nfn main() {}\n"
	assert.Empty(t, Parse(text, FormatMarkdown))

	// An earlier complete block still parses.
	text = "```rust\nfn a() {}\n```\n\n```rust\nfn b(\n"
	blocks := Parse(text, FormatMarkdown)
	require.Len(t, blocks, 1)
	assert.Equal(t, "fn a() {}", blocks[0].Content)
}

func TestParse_IndentRules(t *testing.T) {
	// Up to three spaces of indent still open a fence.
	blocks := Parse("   ```go\nx\n```\n", FormatMarkdown)
	require.Len(t, blocks, 1)

	// Four spaces is an indented code block, which is ignored.
	assert.Empty(t, Parse("    ```go\nx\n    ```\n", FormatMarkdown))
}

func TestParse_EmptyBlock(t *testing.T) {
	blocks := Parse("```go\n```\n", FormatMarkdown)
	require.Len(t, blocks, 1)
	b := blocks[0]
	assert.Equal(t, 0, b.Lines())
	assert.Equal(t, "", b.Content)
	assert.Equal(t, b.ContentStart, b.ContentEnd)
}

func TestParse_InlineBacktickInfoRejected(t *testing.T) {
	// Backticks in the info string mean inline code, not a fence.
	assert.Empty(t, Parse("``` `go` ```\n", FormatMarkdown))
}

func TestParse_Deterministic(t *testing.T) {
	text := "```rust\nfn main() {}\n```\n\n```go\npackage main\n```\n"
	first := Parse(text, FormatMarkdown)
	second := Parse(text, FormatMarkdown)
	assert.Equal(t, first, second)
}

func TestParse_Typst(t *testing.T) {
	text := "= Heading\n\n```rust\nfn main() {}\n```\n"
	blocks := Parse(text, FormatTypst)
	require.Len(t, blocks, 1)
	assert.Equal(t, "rust", blocks[0].Lang)
	assert.Equal(t, "fn main() {}", blocks[0].Content)
}

func TestBlockAt(t *testing.T) {
	text := "# T\n```go\na\nb\n```\ndone\n"
	blocks := Parse(text, FormatMarkdown)
	require.Len(t, blocks, 1)

	// Content lines are inside.
	b, ok := BlockAt(blocks, protocol.Position{Line: 2})
	require.True(t, ok)
	assert.Equal(t, "go", b.Lang)

	// Fence lines and prose are outside.
	for _, line := range []int{0, 1, 4, 5} {
		_, ok := BlockAt(blocks, protocol.Position{Line: line})
		assert.False(t, ok, "line %d should be outside", line)
	}
}

func TestFormatForURI(t *testing.T) {
	f, ok := FormatForURI("file:///a/b/readme.md")
	require.True(t, ok)
	assert.Equal(t, FormatMarkdown, f)

	f, ok = FormatForURI("file:///a/b/paper.typ")
	require.True(t, ok)
	assert.Equal(t, FormatTypst, f)

	_, ok = FormatForURI("file:///a/b/main.rs")
	assert.False(t, ok)
}
