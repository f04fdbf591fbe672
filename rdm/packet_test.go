package rdm

import (
	"bytes"
	"testing"
)

func samplePacket() *Packet {
	return &Packet{
		Dest:              UID(0x7A7000000001),
		Src:               UID(0x7A7000000002),
		TransactionNumber: 0x01,
		PortIDOrResponse:  0x01,
		MessageCount:      0,
		SubDevice:         0,
		CC:                CCDiscover,
		PID:               PIDDiscMute,
		PData:             nil,
	}
}

func withStartCode(body []byte) []byte {
	out := make([]byte, len(body)+1)
	out[0] = startCode
	copy(out[1:], body)
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := samplePacket()
	encoded := withStartCode(p.Encode())

	got, err := Decode(encoded, p.Dest)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Dest != p.Dest || got.Src != p.Src || got.CC != p.CC || got.PID != p.PID ||
		got.TransactionNumber != p.TransactionNumber || got.PortIDOrResponse != p.PortIDOrResponse ||
		got.SubDevice != p.SubDevice || got.MessageCount != p.MessageCount {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
	if !bytes.Equal(got.PData, p.PData) {
		t.Fatalf("pdata mismatch: got %v, want %v", got.PData, p.PData)
	}
}

func TestEncodeDecodeRoundTripWithPData(t *testing.T) {
	p := samplePacket()
	p.CC = CCGet
	p.PID = PIDProxiedDevices
	p.PData = []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

	encoded := withStartCode(p.Encode())
	got, err := Decode(encoded, p.Dest)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.PData, p.PData) {
		t.Fatalf("pdata mismatch: got %v, want %v", got.PData, p.PData)
	}
}

func TestEncodeLengthAndSize(t *testing.T) {
	p := samplePacket()
	p.PData = []byte{1, 2, 3}
	encoded := p.Encode()

	// Encode() excludes the leading start_code byte, so the on-wire total
	// of 26+pdl (spec.md §8) is len(encoded)+1.
	wantLen := 25 + len(p.PData)
	if len(encoded) != wantLen {
		t.Fatalf("encoded length = %d, want %d", len(encoded), wantLen)
	}
	wantLengthField := wantLen + 1 - 2
	if int(encoded[1]) != wantLengthField {
		t.Fatalf("length field = %d, want %d", encoded[1], wantLengthField)
	}
}

func TestChecksumMutationRejected(t *testing.T) {
	p := samplePacket()
	encoded := withStartCode(p.Encode())

	for i := range encoded {
		mutated := append([]byte(nil), encoded...)
		mutated[i] ^= 0xFF
		if _, err := Decode(mutated, p.Dest); err == nil {
			t.Fatalf("byte %d: expected decode to reject a flipped byte", i)
		}
	}
}

func TestDecodeWrongDestination(t *testing.T) {
	p := samplePacket()
	encoded := withStartCode(p.Encode())

	if _, err := Decode(encoded, UID(0x7A7099999999)); err != ErrWrongDestination {
		t.Fatalf("expected ErrWrongDestination, got %v", err)
	}
}

func TestDecodeAcceptsBroadcastAndMfrBroadcast(t *testing.T) {
	p := samplePacket()
	p.Dest = UIDBroadcast
	encoded := withStartCode(p.Encode())
	if _, err := Decode(encoded, UID(0x7A7000000099)); err != nil {
		t.Fatalf("broadcast dest should be accepted: %v", err)
	}

	p2 := samplePacket()
	p2.Dest = UIDMfrBroadcast(0x7A70)
	encoded2 := withStartCode(p2.Encode())
	if _, err := Decode(encoded2, UID(0x7A7000000099)); err != nil {
		t.Fatalf("manufacturer broadcast dest should be accepted: %v", err)
	}
}

func TestUIDReadWriteRoundTrip(t *testing.T) {
	uids := []UID{0, 1, UIDMax, UID(0x7A7000000001), UID(0x0001FFFFFFFF)}
	for _, u := range uids {
		var buf [6]byte
		WriteUID(buf[:], u)
		if got := ReadUID(buf[:]); got != u {
			t.Fatalf("ReadUID(WriteUID(%d)) = %d", u, got)
		}
	}
}

func TestDecodeRequestBodyIgnoresDestination(t *testing.T) {
	p := samplePacket()
	p.Dest = UID(0x7A7000000099) // some fixture on the bus, not a controller
	p.Src = UID(0x7A70FFFFFFFF)  // arbitrary, unrelated to the decoding side

	got, err := DecodeRequestBody(p.Encode())
	if err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if got.Dest != p.Dest {
		t.Fatalf("dest = %v, want %v", got.Dest, p.Dest)
	}
}

func TestResponseCCFor(t *testing.T) {
	cases := map[uint8]uint8{
		CCDiscover: CCDiscoverResp,
		CCGet:      CCGetResp,
		CCSet:      CCSetResp,
	}
	for req, want := range cases {
		if got := ResponseCCFor(req); got != want {
			t.Fatalf("ResponseCCFor(%#x) = %#x, want %#x", req, got, want)
		}
	}
}
