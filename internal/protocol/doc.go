// Package protocol implements the LSP base protocol: Content-Length
// framing over byte streams and the JSON-RPC 2.0 message envelope, plus
// the subset of LSP 3.17 structure types the proxy inspects.
//
// The proxy sits between an editor and several child language servers,
// so most payloads pass through as raw JSON. The typed structures here
// cover only what the proxy must read or rewrite: positions, ranges,
// locations, document sync parameters, diagnostics, and the
// initialize handshake. Everything else stays opaque.
//
// # Framing
//
// A Framer reads and writes one frame at a time:
//
//	f := protocol.NewFramer(stdin, stdout)
//	msg, err := f.ReadMessage()   // header lines, blank line, body
//	err = f.WriteRaw(payload)     // symmetric
//
// Framing errors are distinguished from I/O errors with FramingError so
// callers can apply the correct recovery policy (fatal on the editor
// stream, crash-and-respawn on a child stream).
package protocol
