// Package remap implements the Universe Router: a lookup built once at
// startup from config, from an ArtNet universe number to the ports that
// own it. It is the teacher's channel-remapping engine repurposed —
// same shape (a map keyed by source address, built once from config,
// queried on every incoming packet) kept as a many-to-many table,
// because spec.md's "unique RDM request" open question (decided in
// DESIGN.md: push a copy into every matching port, not just one) means
// more than one physical port can legitimately share a universe.
package remap

// Router maps ArtNet universe numbers to the indices of the ports that
// own them, and back (one port belongs to exactly one universe).
type Router struct {
	toPorts    map[int][]int
	toUniverse map[int]int
}

// NewRouter builds a Router from a set of (portIndex, universe) pairs,
// keyed by port index since a port belongs to exactly one universe but
// a universe may be claimed by several ports (spec.md's rdm_handler
// fan-out behavior) — keying the input by universe instead would let
// one port's entry silently clobber another's.
func NewRouter(portToUniverse map[int]int) *Router {
	toPorts := make(map[int][]int, len(portToUniverse))
	toUniverse := make(map[int]int, len(portToUniverse))
	for portIndex, universe := range portToUniverse {
		toPorts[universe] = append(toPorts[universe], portIndex)
		toUniverse[portIndex] = universe
	}
	return &Router{toPorts: toPorts, toUniverse: toUniverse}
}

// PortsFor returns every port index owning universe, or nil if
// unconfigured.
func (r *Router) PortsFor(universe int) []int {
	return r.toPorts[universe]
}

// UniverseFor returns the universe a port index was configured with, or
// false if portIndex is unknown.
func (r *Router) UniverseFor(portIndex int) (int, bool) {
	u, ok := r.toUniverse[portIndex]
	return u, ok
}

// Universes returns every routed universe number.
func (r *Router) Universes() []int {
	result := make([]int, 0, len(r.toPorts))
	for u := range r.toPorts {
		result = append(result, u)
	}
	return result
}
