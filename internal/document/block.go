package document

import (
	"path"
	"strings"

	"github.com/dshills/literate-lsp/internal/protocol"
)

// Format identifies the host document flavor.
type Format int

const (
	FormatMarkdown Format = iota
	FormatTypst
)

// String returns a human-readable format name.
func (f Format) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatTypst:
		return "typst"
	default:
		return "unknown"
	}
}

// FormatForURI returns the host format implied by a URI's extension.
func FormatForURI(uri protocol.DocumentURI) (Format, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(string(uri)), "."))
	switch ext {
	case "md", "markdown", "mdown", "mkdn", "mdx", "mmd":
		return FormatMarkdown, true
	case "typ":
		return FormatTypst, true
	default:
		return 0, false
	}
}

// Block is one fenced code block within a host document version.
// Line numbers are zero-based host lines. The content span
// [ContentStart, ContentEnd) covers the lines strictly between the
// fences; a block whose fences are adjacent has ContentStart ==
// ContentEnd and no content.
type Block struct {
	Lang         string // lowercase first token of the info string, "" if untagged
	FenceStart   int    // line holding the opening fence
	FenceEnd     int    // line holding the closing fence
	ContentStart int
	ContentEnd   int
	Content      string // content lines joined with "\n", no trailing newline
	Index        int    // position among all blocks in the document
}

// Lines returns the number of content lines.
func (b Block) Lines() int { return b.ContentEnd - b.ContentStart }

// ContainsLine reports whether a host line lies in the content span.
func (b Block) ContainsLine(line int) bool {
	return line >= b.ContentStart && line < b.ContentEnd
}

// openFence describes an opening fence line, if the line is one.
type openFence struct {
	char   byte // '`' or '~'
	length int
	lang   string
}

// parseOpenFence recognizes an opening fence: at most three spaces of
// indent, then three or more of the same fence character, then an info
// string whose first whitespace-separated token is the language tag.
// Tilde fences are Markdown-only.
func parseOpenFence(line string, format Format) (openFence, bool) {
	indent := 0
	for indent < len(line) && line[indent] == ' ' {
		indent++
	}
	if indent > 3 || indent >= len(line) {
		return openFence{}, false
	}

	char := line[indent]
	if char != '`' && !(char == '~' && format == FormatMarkdown) {
		return openFence{}, false
	}

	length := 0
	i := indent
	for i < len(line) && line[i] == char {
		length++
		i++
	}
	if length < 3 {
		return openFence{}, false
	}

	info := strings.TrimSpace(line[i:])
	if char == '`' && strings.ContainsRune(info, '`') {
		// A backtick in the info string means this is inline code, not a fence.
		return openFence{}, false
	}

	lang := ""
	if fields := strings.Fields(info); len(fields) > 0 {
		lang = strings.ToLower(fields[0])
	}

	return openFence{char: char, length: length, lang: lang}, true
}

// isCloseFence recognizes a closing fence for the given opening: the
// same character, at least the opening length, nothing but whitespace
// after, indent at most three spaces.
func isCloseFence(line string, open openFence) bool {
	indent := 0
	for indent < len(line) && line[indent] == ' ' {
		indent++
	}
	if indent > 3 {
		return false
	}

	length := 0
	i := indent
	for i < len(line) && line[i] == open.char {
		length++
		i++
	}
	if length < open.length {
		return false
	}

	return strings.TrimSpace(line[i:]) == ""
}

// Parse extracts the ordered fenced code blocks from a host document.
// The whole document is re-scanned on every call; literate documents
// are prose-dominant and small enough that incremental parsing does
// not pay for itself.
//
// Malformed input never fails: an unterminated fence at the end of the
// document is excluded, and an inner fence of fewer characters than the
// opening is preserved as content.
func Parse(text string, format Format) []Block {
	lines := splitLines(text)
	var blocks []Block

	var open openFence
	inBlock := false
	fenceStart := 0

	for idx, line := range lines {
		if !inBlock {
			if f, ok := parseOpenFence(line, format); ok {
				open = f
				inBlock = true
				fenceStart = idx
			}
			continue
		}
		if isCloseFence(line, open) {
			content := ""
			if fenceStart+1 < idx {
				content = strings.Join(lines[fenceStart+1:idx], "\n")
			}
			blocks = append(blocks, Block{
				Lang:         open.lang,
				FenceStart:   fenceStart,
				FenceEnd:     idx,
				ContentStart: fenceStart + 1,
				ContentEnd:   idx,
				Content:      content,
				Index:        len(blocks),
			})
			inBlock = false
		}
	}

	// An unterminated trailing fence contributes nothing.
	return blocks
}

// Languages returns the distinct non-empty language tags among blocks,
// in first-appearance order.
func Languages(blocks []Block) []string {
	seen := make(map[string]bool)
	var langs []string
	for _, b := range blocks {
		if b.Lang == "" || seen[b.Lang] {
			continue
		}
		seen[b.Lang] = true
		langs = append(langs, b.Lang)
	}
	return langs
}

// BlockAt returns the block whose content span contains the given host
// position, or ok=false when the position lies outside every block
// (prose, fence lines, or an empty block).
func BlockAt(blocks []Block, pos protocol.Position) (Block, bool) {
	for _, b := range blocks {
		if b.ContainsLine(pos.Line) {
			return b, true
		}
	}
	return Block{}, false
}

// splitLines splits on '\n', treating a trailing newline as ending the
// final line rather than opening an empty one.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
