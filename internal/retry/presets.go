package retry

import "time"

// ReplicationBackoff bounds the best-effort retry of a single mutation line
// sent to the replication peer (spec.md §4.7): the local reply to the
// originating connection is already sent, so this must stay short and must
// never block a command handler waiting on a peer that is down.
var ReplicationBackoff = Backoff{Base: 50 * time.Millisecond, Growth: 2.0, Jitter: 0.2}

// CreateCollisionBackoff bounds retries of atomic cookie creation when the
// randomly generated name collides with an existing file (store.ErrExists).
// Collisions are expected to be exceedingly rare given the entropy of
// generated cookie suffixes and ticket handles; this exists to absorb the
// occasional collision rather than fail the request outright.
var CreateCollisionBackoff = Backoff{Base: 10 * time.Millisecond, Growth: 1.5, Jitter: 0.3}
