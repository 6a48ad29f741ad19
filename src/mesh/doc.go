// Package mesh implements peer-to-peer message flooding between directly
// reachable nodes. Routing is deliberately dumb: every message is forwarded
// to all known peers that have not already carried it, bounded by a TTL hop
// counter. Topology in the field is too volatile for path computation; the
// TTL bound caps redundant traffic and guarantees termination even with
// cyclic adjacency.
package mesh
