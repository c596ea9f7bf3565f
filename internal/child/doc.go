// Package child owns the downstream language-server processes.
//
// For each language tag there is at most one child process, spawned
// lazily on first use and reused across every host document. A Server
// wraps one process: pipes, framing, the initialize handshake, and an
// outbound queue that holds messages until the handshake completes. A
// Supervisor watches its Server and respawns it after a crash with
// exponential backoff, and the Manager is the per-language registry
// the router talks to.
//
// The package does not interpret traffic. Inbound messages that are
// not handshake responses are handed raw to the registered handler;
// outbound messages arrive pre-serialized from the router.
package child
