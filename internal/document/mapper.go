package document

import (
	"errors"
	"sort"

	"github.com/dshills/literate-lsp/internal/protocol"
)

// ErrOutsideBlock indicates a position that falls in prose, on a fence
// line, or inside an empty block.
var ErrOutsideBlock = errors.New("position outside any code block")

// Segment relates one block's content lines to their location in the
// virtual document. Virtual segments are contiguous from line 0;
// host segments are strictly increasing and non-overlapping.
type Segment struct {
	HostStart    int
	VirtualStart int
	Lines        int
}

// BlockMap is the ordered line correspondence between a host document
// and the virtual document of one language. It is immutable once built.
type BlockMap struct {
	segments []Segment
}

// NewBlockMap builds the map for one language from a parsed block list.
// Blocks of other languages are skipped; empty blocks produce
// zero-length segments that never match a position.
func NewBlockMap(blocks []Block, lang string) *BlockMap {
	m := &BlockMap{}
	virtual := 0
	for _, b := range blocks {
		if b.Lang != lang {
			continue
		}
		m.segments = append(m.segments, Segment{
			HostStart:    b.ContentStart,
			VirtualStart: virtual,
			Lines:        b.Lines(),
		})
		virtual += b.Lines()
	}
	return m
}

// Segments returns the underlying segments, for inspection in tests.
func (m *BlockMap) Segments() []Segment { return m.segments }

// VirtualLines returns the total line count of the virtual document.
func (m *BlockMap) VirtualLines() int {
	if len(m.segments) == 0 {
		return 0
	}
	last := m.segments[len(m.segments)-1]
	return last.VirtualStart + last.Lines
}

// ToVirtual maps a host position into virtual coordinates. Columns
// pass through unchanged: block content is copied byte-for-byte, so
// UTF-16 offsets are identical on both sides.
func (m *BlockMap) ToVirtual(p protocol.Position) (protocol.Position, error) {
	for _, s := range m.segments {
		if p.Line >= s.HostStart && p.Line < s.HostStart+s.Lines {
			return protocol.Position{
				Line:      s.VirtualStart + (p.Line - s.HostStart),
				Character: p.Character,
			}, nil
		}
	}
	return protocol.Position{}, ErrOutsideBlock
}

// ToHost maps a virtual position back into host coordinates.
func (m *BlockMap) ToHost(p protocol.Position) (protocol.Position, error) {
	i := sort.Search(len(m.segments), func(i int) bool {
		s := m.segments[i]
		return s.VirtualStart+s.Lines > p.Line
	})
	if i < len(m.segments) {
		s := m.segments[i]
		if p.Line >= s.VirtualStart && p.Line < s.VirtualStart+s.Lines {
			return protocol.Position{
				Line:      s.HostStart + (p.Line - s.VirtualStart),
				Character: p.Character,
			}, nil
		}
	}
	return protocol.Position{}, ErrOutsideBlock
}

// RangeToVirtual maps a host range into virtual coordinates, clamping
// endpoints that fall outside a block to the nearest block boundary on
// the same side. It fails only when the range touches no block at all.
func (m *BlockMap) RangeToVirtual(r protocol.Range) (protocol.Range, error) {
	start, errS := m.ToVirtual(r.Start)
	end, errE := m.ToVirtual(r.End)

	if errS != nil {
		start = m.clampVirtualForward(r.Start)
	}
	if errE != nil {
		end = m.clampVirtualBackward(r.End)
	}

	if start.Line > end.Line || (start.Line == end.Line && start.Character > end.Character) {
		return protocol.Range{}, ErrOutsideBlock
	}
	return protocol.Range{Start: start, End: end}, nil
}

// clampVirtualForward returns the first virtual position at or after
// the host position, or the document end when none exists.
func (m *BlockMap) clampVirtualForward(p protocol.Position) protocol.Position {
	for _, s := range m.segments {
		if s.Lines == 0 {
			continue
		}
		if p.Line < s.HostStart+s.Lines {
			return protocol.Position{Line: s.VirtualStart}
		}
	}
	return protocol.Position{Line: m.VirtualLines()}
}

// clampVirtualBackward returns the last virtual position at or before
// the host position, or line -1 when none exists, which RangeToVirtual
// then rejects as an empty range.
func (m *BlockMap) clampVirtualBackward(p protocol.Position) protocol.Position {
	for i := len(m.segments) - 1; i >= 0; i-- {
		s := m.segments[i]
		if s.Lines == 0 {
			continue
		}
		if p.Line >= s.HostStart {
			// End of the segment's last line; a very large column is
			// clamped by the child against its own buffer.
			return protocol.Position{Line: s.VirtualStart + s.Lines - 1, Character: maxColumn}
		}
	}
	return protocol.Position{Line: -1}
}

// maxColumn stands in for "end of line" when clamping; LSP servers
// clamp oversized columns to the actual line length.
const maxColumn = 1 << 20

// RangeToHost maps a virtual range back to host coordinates. A range
// confined to one segment yields a single host range. A range spanning
// segment boundaries — possible for multi-block diagnostics or
// highlights — is split into one sub-range per segment, since the host
// lines between blocks are prose that the range must not cover.
func (m *BlockMap) RangeToHost(r protocol.Range) []protocol.Range {
	var out []protocol.Range
	for _, s := range m.segments {
		if s.Lines == 0 {
			continue
		}
		segStart := s.VirtualStart
		segEnd := s.VirtualStart + s.Lines // exclusive line bound

		// Portion of r that overlaps this segment, in virtual space.
		start := r.Start
		if start.Line < segStart {
			start = protocol.Position{Line: segStart}
		}
		end := r.End
		if end.Line >= segEnd {
			end = protocol.Position{Line: segEnd - 1, Character: maxColumn}
		}
		if start.Line > end.Line || (start.Line == end.Line && start.Character > end.Character) {
			continue
		}
		if start.Line >= segEnd || end.Line < segStart {
			continue
		}

		hs, err1 := m.ToHost(start)
		he, err2 := m.ToHost(end)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, protocol.Range{Start: hs, End: he})
	}
	return out
}
