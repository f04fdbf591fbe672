package rdm

import (
	"context"
	"testing"
	"time"
)

// scriptedTransport replays a fixed sequence of responses (as already-built
// Packets, or nil for "no response") to successive WriteRDM calls, ignoring
// the actual outgoing bytes except to track how many times it was called.
type scriptedTransport struct {
	responses []*Packet
	calls     int
	lastSent  []byte
	reopens   int

	// unavailableOnCall, if set, makes the call at that 1-based index
	// return ErrTransportUnavailable instead of consulting responses.
	unavailableOnCall int
}

func (s *scriptedTransport) Reopen(ctx context.Context) error {
	s.reopens++
	return nil
}

func (s *scriptedTransport) WriteRDM(ctx context.Context, buf []byte, expectDUB bool) ([]byte, error) {
	s.lastSent = buf
	s.calls++
	if s.unavailableOnCall != 0 && s.calls == s.unavailableOnCall {
		return nil, ErrTransportUnavailable
	}
	if s.calls-1 >= len(s.responses) {
		return nil, nil
	}
	resp := s.responses[s.calls-1]
	if resp == nil {
		return nil, nil
	}
	return withStartCode(resp.Encode()), nil
}

func TestTransactionACKTimerThenQueuedPoll(t *testing.T) {
	ours := UID(0x7A7000000001)
	target := UID(0x7A7000000002)

	ackTimer := &Packet{
		Dest: ours, Src: target, CC: CCGetResp, PID: PIDDiscMute,
		PortIDOrResponse: RespACKTimer, PData: []byte{0x00, 0x0A}, // 10 deciseconds = 1000ms
	}
	final := &Packet{
		Dest: ours, Src: target, CC: CCGetResp, PID: PIDDiscMute,
		PortIDOrResponse: RespACK, PData: []byte{0x42},
	}

	transport := &scriptedTransport{responses: []*Packet{ackTimer, final}}
	engine := NewEngine(transport, ours)

	pkt := &Packet{Dest: target, Src: ours, CC: CCGet, PID: PIDDiscMute}
	start := time.Now()
	resp := engine.Send(context.Background(), pkt, 5, 2*time.Second)
	elapsed := time.Since(start)

	if len(resp) != 1 || resp[0].PortIDOrResponse != RespACK {
		t.Fatalf("expected one ACK response, got %+v", resp)
	}
	if elapsed < 900*time.Millisecond {
		t.Fatalf("expected ~1000ms ACK_TIMER wait, only waited %v", elapsed)
	}
	if pkt.PID != PIDQueuedMessage || pkt.CC != CCGet {
		t.Fatalf("expected pkt left polling QUEUED_MESSAGE after ACK_TIMER, got cc=%#x pid=%#x", pkt.CC, pkt.PID)
	}
}

func TestTransactionACKOverflowAccumulates(t *testing.T) {
	ours := UID(0x7A7000000001)
	target := UID(0x7A7000000002)

	mk := func(respType uint8, data byte) *Packet {
		return &Packet{
			Dest: ours, Src: target, CC: CCGetResp, PID: PIDProxiedDevices,
			PortIDOrResponse: respType, PData: []byte{data},
		}
	}
	transport := &scriptedTransport{responses: []*Packet{
		mk(RespACKOverfl, 1),
		mk(RespACKOverfl, 2),
		mk(RespACK, 3),
	}}
	engine := NewEngine(transport, ours)

	pkt := &Packet{Dest: target, Src: ours, CC: CCGet, PID: PIDProxiedDevices}
	resp := engine.Send(context.Background(), pkt, 5, 2*time.Second)

	if len(resp) != 3 {
		t.Fatalf("expected 3 accumulated responses, got %d", len(resp))
	}
	for i, want := range []byte{1, 2, 3} {
		if resp[i].PData[0] != want {
			t.Fatalf("response %d pdata = %v, want %d", i, resp[i].PData, want)
		}
	}
}

func TestTransactionIgnoresMismatchedPID(t *testing.T) {
	ours := UID(0x7A7000000001)
	target := UID(0x7A7000000002)

	wrongPID := &Packet{
		Dest: ours, Src: target, CC: CCGetResp, PID: PIDProxyDevCount, // wrong PID
		PortIDOrResponse: RespACK, PData: []byte{0x01},
	}
	right := &Packet{
		Dest: ours, Src: target, CC: CCGetResp, PID: PIDProxiedDevices,
		PortIDOrResponse: RespACK, PData: []byte{0x02},
	}
	transport := &scriptedTransport{responses: []*Packet{wrongPID, right}}
	engine := NewEngine(transport, ours)

	pkt := &Packet{Dest: target, Src: ours, CC: CCGet, PID: PIDProxiedDevices}
	resp := engine.Send(context.Background(), pkt, 5, 2*time.Second)

	if len(resp) != 1 || resp[0].PData[0] != 0x02 {
		t.Fatalf("expected the matching-PID response only, got %+v", resp)
	}
}

func TestBroadcastSendsOnceWithNoWait(t *testing.T) {
	ours := UID(0x7A7000000001)
	transport := &scriptedTransport{}
	engine := NewEngine(transport, ours)

	pkt := &Packet{Dest: UIDBroadcast, Src: ours, CC: CCDiscover, PID: PIDDiscUnmute}
	resp := engine.Send(context.Background(), pkt, 5, 2*time.Second)

	if resp != nil {
		t.Fatalf("broadcast should return no response packets, got %+v", resp)
	}
	if transport.calls != 1 {
		t.Fatalf("broadcast should call the transport exactly once, got %d calls", transport.calls)
	}
}

func TestTransactionNumberAssignedOnFirstAttempt(t *testing.T) {
	ours := UID(0x7A7000000001)
	target := UID(0x7A7000000002)
	ack := &Packet{
		Dest: ours, Src: target, CC: CCGetResp, PID: PIDDiscMute, PortIDOrResponse: RespACK,
	}
	transport := &scriptedTransport{responses: []*Packet{ack}}
	engine := NewEngine(transport, ours)

	// A fresh engine's counter starts at 0, so a zero TransactionNumber
	// after Send doesn't by itself prove the bug is fixed; send a second,
	// independent transaction and confirm its number differs instead.
	pkt1 := &Packet{Dest: target, Src: ours, CC: CCGet, PID: PIDDiscMute}
	engine.Send(context.Background(), pkt1, 5, 2*time.Second)

	transport.calls = 0
	pkt2 := &Packet{Dest: target, Src: ours, CC: CCGet, PID: PIDDiscMute}
	engine.Send(context.Background(), pkt2, 5, 2*time.Second)

	if pkt2.TransactionNumber == pkt1.TransactionNumber {
		t.Fatalf("expected distinct transaction numbers on the first attempt of each call, got %d and %d", pkt1.TransactionNumber, pkt2.TransactionNumber)
	}
	if pkt2.TransactionNumber != pkt1.TransactionNumber+1 {
		t.Fatalf("expected transaction number to increment monotonically, got %d then %d", pkt1.TransactionNumber, pkt2.TransactionNumber)
	}
}

func TestTransactionReopensAfterUnavailable(t *testing.T) {
	ours := UID(0x7A7000000001)
	target := UID(0x7A7000000002)
	ack := &Packet{
		Dest: ours, Src: target, CC: CCGetResp, PID: PIDDiscMute, PortIDOrResponse: RespACK,
	}

	// First call reports the device gone; the engine should reopen the
	// transport and retry rather than abandoning the transaction.
	transport := &scriptedTransport{unavailableOnCall: 1, responses: []*Packet{nil, ack}}
	engine := NewEngine(transport, ours)

	pkt := &Packet{Dest: target, Src: ours, CC: CCGet, PID: PIDDiscMute}
	start := time.Now()
	resp := engine.Send(context.Background(), pkt, 5, 2*time.Second)
	elapsed := time.Since(start)

	if len(resp) != 1 || resp[0].PortIDOrResponse != RespACK {
		t.Fatalf("expected the transaction to recover after reopening, got %+v", resp)
	}
	if transport.reopens != 1 {
		t.Fatalf("expected exactly one Reopen call, got %d", transport.reopens)
	}
	if elapsed < 900*time.Millisecond {
		t.Fatalf("expected the 1-second backoff before reopening, only waited %v", elapsed)
	}
}

func TestNACKOnlyReturnsEmpty(t *testing.T) {
	ours := UID(0x7A7000000001)
	target := UID(0x7A7000000002)
	nack := &Packet{
		Dest: ours, Src: target, CC: CCGetResp, PID: PIDDiscMute, PortIDOrResponse: RespNACK,
	}
	transport := &scriptedTransport{responses: []*Packet{nack, nack, nack, nack, nack}}
	engine := NewEngine(transport, ours)

	pkt := &Packet{Dest: target, Src: ours, CC: CCGet, PID: PIDDiscMute}
	resp := engine.Send(context.Background(), pkt, 5, 2*time.Second)
	if resp != nil {
		t.Fatalf("all-NACK outcome should return empty, got %+v", resp)
	}
}
