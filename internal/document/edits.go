package document

import (
	"strings"

	"github.com/dshills/literate-lsp/internal/protocol"
)

// ApplyChanges applies a didChange event list to text in order. A
// change with no range replaces the whole document; a ranged change
// replaces the addressed span, with columns interpreted as UTF-16 code
// units per the LSP specification.
func ApplyChanges(text string, changes []protocol.TextDocumentContentChangeEvent) string {
	for _, c := range changes {
		if c.Range == nil {
			text = c.Text
			continue
		}
		start := positionToByteOffset(text, c.Range.Start)
		end := positionToByteOffset(text, c.Range.End)
		if end < start {
			start, end = end, start
		}
		text = text[:start] + c.Text + text[end:]
	}
	return text
}

// positionToByteOffset converts an LSP position to a byte offset,
// clamping out-of-range lines and columns to document bounds.
func positionToByteOffset(text string, pos protocol.Position) int {
	if pos.Line < 0 {
		return 0
	}

	offset := 0
	line := 0
	for line < pos.Line {
		nl := strings.IndexByte(text[offset:], '\n')
		if nl < 0 {
			return len(text)
		}
		offset += nl + 1
		line++
	}

	lineEnd := len(text)
	if nl := strings.IndexByte(text[offset:], '\n'); nl >= 0 {
		lineEnd = offset + nl
	}

	return offset + utf16ToByteOffset(text[offset:lineEnd], pos.Character)
}

// utf16ToByteOffset converts a UTF-16 code-unit offset within a single
// line to a byte offset, clamping to the line length.
func utf16ToByteOffset(line string, utf16Off int) int {
	if utf16Off <= 0 {
		return 0
	}
	count := 0
	for i, r := range line {
		if count >= utf16Off {
			return i
		}
		if r >= 0x10000 {
			count += 2
		} else {
			count++
		}
	}
	return len(line)
}
