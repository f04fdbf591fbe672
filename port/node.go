package port

import (
	"context"

	"github.com/openlighting/ordmbridge/rdm"
)

// Node owns every configured Port (spec.md §9's "owned Port value, no
// global arrays"). Universe-to-port routing is the Universe Router's
// job (package remap); Node just indexes ports by their position.
type Node struct {
	ports []*Port
}

// NewNode builds a Node over ports.
func NewNode(ports []*Port) *Node {
	return &Node{ports: ports}
}

// PortByIndex returns the Port at index, or false if out of range.
func (n *Node) PortByIndex(index int) (*Port, bool) {
	if index < 0 || index >= len(n.ports) {
		return nil, false
	}
	return n.ports[index], true
}

// Ports returns every owned Port, in configured order.
func (n *Node) Ports() []*Port { return n.ports }

// Start launches every port's workers.
func (n *Node) Start(ctx context.Context) {
	for _, p := range n.ports {
		p.Start(ctx)
	}
}

// Wait blocks until every port's workers have exited.
func (n *Node) Wait() {
	for _, p := range n.ports {
		p.Wait()
	}
}

// Close closes every port's transport, returning the first error
// encountered (after attempting to close all of them).
func (n *Node) Close() error {
	var first error
	for _, p := range n.ports {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// TOD returns the current table-of-devices for a port, for use when
// seeding an ArtTodData reply outside the discovery/incremental flow.
func (n *Node) TOD(portIndex int) []rdm.UID {
	p, ok := n.PortByIndex(portIndex)
	if !ok {
		return nil
	}
	return p.inventory.TOD()
}
