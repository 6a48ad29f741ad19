// Package clock implements the logical clocks that order events in the mesh.
// Every node carries a scalar Lamport counter and a vector clock mapping node
// IDs to counters. The Lamport value, with node ID as tie-break, defines the
// system-wide total order; the vector clock is auxiliary information used to
// distinguish causally-ordered events from truly concurrent ones.
package clock
