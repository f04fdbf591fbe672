package rdm

import (
	"context"
	"errors"
	"time"
)

// ErrTransportUnavailable is the distinguished error a Transport returns
// when the underlying USB device has disappeared. Engine.Send then backs
// off 1 second and calls Reopen; if the reopen succeeds it goes on with
// its next attempt, and if it fails the call returns no responses.
var ErrTransportUnavailable = errors.New("rdm: transport unavailable")

// Transport is the bus-facing dependency of the Transaction Engine. It is
// the Go-side contract for spec.md's external "writeRDM" collaborator:
// open/writeDMX/close live on the concrete implementation (see the
// transport package); the engine needs only WriteRDM and Reopen.
type Transport interface {
	// WriteRDM sends buf — the output of Packet.Encode, which excludes the
	// leading start_code byte since the BREAK/MAB framing substitutes for
	// it on the wire — then reads a response within its own internal
	// timeout. A normal RDM response is returned WITH its start_code byte
	// intact, ready for Decode. expectDUB hints that the response, if
	// any, is a Discovery Unique Branch reply instead, ready for
	// DecodeDUB. Returns a nil slice with a nil error on a plain timeout
	// (no responder); returns ErrTransportUnavailable when the device
	// itself is gone.
	WriteRDM(ctx context.Context, buf []byte, expectDUB bool) ([]byte, error)

	// Reopen re-establishes the bus after ErrTransportUnavailable: closes
	// and reopens the underlying device, matching spec.md §4.2/§7's "port
	// may re-init" after the 1-second backoff.
	Reopen(ctx context.Context) error
}

const (
	defaultRetries   = 5
	defaultMaxTimeMS = 2000
)

// transactionNumbers hands out monotonically increasing, wrapping
// transaction numbers for one controller UID.
type transactionNumbers struct {
	next uint8
}

func (t *transactionNumbers) take() uint8 {
	n := t.next
	t.next++
	return n
}

// Engine runs sendRDMPacket-style transactions against one port's bus.
// Not safe for concurrent use — callers serialize through the port's
// transport mutex, per spec.md §5.
type Engine struct {
	Transport Transport
	Ours      UID
	tns       transactionNumbers
}

// NewEngine returns a Transaction Engine bound to transport, identifying
// itself on the bus as ours.
func NewEngine(transport Transport, ours UID) *Engine {
	return &Engine{Transport: transport, Ours: ours}
}

// IsBroadcast reports whether dest expects no response at all. Send
// transmits such a packet once and returns no responses, without retries
// and without decoding anything the transport reads back.
func IsBroadcast(dest UID) bool {
	return dest == UIDBroadcast || dest.Device() == 0xFFFFFFFF
}

// Send runs sendRDMPacket(pkt, retries, maxTime): submits pkt, retrying on
// timeout/NACK, honoring ACK_TIMER QUEUED_MESSAGE polling and ACK_OVERFLOW
// fragment accumulation, and returns the accumulated response packets
// (empty on final failure). retries<=0 and maxTime<=0 select the spec
// defaults of 5 and 2000ms.
func (e *Engine) Send(ctx context.Context, pkt *Packet, retries int, maxTime time.Duration) []*Packet {
	if retries <= 0 {
		retries = defaultRetries
	}
	if maxTime <= 0 {
		maxTime = defaultMaxTimeMS * time.Millisecond
	}

	if IsBroadcast(pkt.Dest) {
		pkt.TransactionNumber = e.tns.take()
		_, _ = e.Transport.WriteRDM(ctx, pkt.Encode(), false)
		return nil
	}

	originalPID := pkt.PID
	expectResponseCC := ResponseCCFor(pkt.CC)

	var accumulated []*Packet
	start := time.Now()
	attempt := 0

	for attempt < retries {
		pkt.TransactionNumber = e.tns.take()
		if attempt > 0 {
			if time.Since(start) > maxTime {
				return nil
			}
		}
		attempt++

		raw, err := e.Transport.WriteRDM(ctx, pkt.Encode(), false)
		if err != nil {
			if errors.Is(err, ErrTransportUnavailable) {
				sleepOrDone(ctx, time.Second)
				if reopenErr := e.Transport.Reopen(ctx); reopenErr != nil {
					return nil
				}
				continue
			}
			continue
		}
		if len(raw) == 0 {
			continue
		}

		resp, err := Decode(raw, e.Ours)
		if err != nil {
			continue
		}
		if resp.CC != expectResponseCC || resp.PID != originalPID {
			continue
		}

		switch resp.PortIDOrResponse {
		case RespACK:
			accumulated = append(accumulated, resp)
			return accumulated

		case RespACKOverfl:
			accumulated = append(accumulated, resp)
			continue

		case RespACKTimer:
			wait := time.Duration(0)
			if len(resp.PData) >= 2 {
				deciseconds := uint16BE(resp.PData[:2])
				wait = time.Duration(deciseconds) * 100 * time.Millisecond
			}
			pkt.CC = CCGet
			pkt.PID = PIDQueuedMessage
			pkt.PData = []byte{StatusError}
			remaining := maxTime - time.Since(start)
			if wait > remaining {
				wait = remaining
			}
			if wait > 0 {
				sleepOrDone(ctx, wait)
			}
			continue

		case RespNACK:
			continue

		default:
			continue
		}
	}

	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
