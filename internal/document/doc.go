// Package document maintains the proxy's view of literate documents.
//
// A host document (Markdown or Typst) is parsed into an ordered list of
// fenced code blocks. For every language that appears, the package
// derives a virtual document: the concatenation of that language's
// block contents in document order. A BlockMap records the line
// correspondence between the two, giving bijective position mapping in
// both directions.
//
// The Store owns this state for all open host documents and produces
// sync events (open/change/close of virtual documents) as the host is
// edited. Mapping state is a pure function of the host text at a given
// version; nothing here holds references back into protocol sessions.
package document
