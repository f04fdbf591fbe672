// Package transport implements the USB-serial bus driver spec.md treats as
// an external collaborator: opening the serial link, framing DMX and RDM
// frames with BREAK/MAB, and performing the synchronous write-then-read
// exchange an RDM transaction needs.
package transport

import (
	"context"

	"github.com/openlighting/ordmbridge/rdm"
)

// ErrUnavailable is returned when the underlying USB device has
// disappeared (unplugged, OS handle revoked). It is the same value as
// rdm.ErrTransportUnavailable, so the Transaction Engine recognises it.
// Callers back off and retry opening the port rather than treating it as
// a single failed request.
var ErrUnavailable = rdm.ErrTransportUnavailable

// DMX is the one-way frame sender a port's DMX worker drives.
type DMX interface {
	WriteDMX(ctx context.Context, slots []byte) error
}

// Transport is the full bus driver contract for one physical port: DMX
// writes, RDM request/response exchanges (satisfying rdm.Transport), and
// lifecycle management. A single Transport instance serializes all bus
// I/O; callers coordinate concurrent DMX/RDM access with their own mutex
// per spec.md §5 — Transport itself assumes single-caller-at-a-time use.
type Transport interface {
	DMX
	rdm.Transport
	Close() error
}

const (
	// BaudRate is the fixed DMX512/RDM line rate.
	BaudRate = 250000
	// DataBits, StopBits match the DMX512 physical layer (8N2).
	DataBits = 8
	StopBits = 2

	// ReadTimeoutMS bounds each read of a bus exchange. WriteTimeoutMS is
	// not applied by SerialTransport: its writes carry no timeout.
	ReadTimeoutMS  = 50
	WriteTimeoutMS = 50

	// MaxResponseBytes is the largest buffer a response read fills.
	MaxResponseBytes = 512
)
