package rdm

import (
	"context"
	"sort"
	"testing"
)

// fakeBus simulates a set of RDM devices on a bus for discovery tests: it
// answers DISC_UNIQUE_BRANCH with a DUB reply when exactly one unmuted
// device falls in range, a collision marker when two or more do, and
// nothing when none do; DISC_MUTE/DISC_UNMUTE and GET PROXIED_DEVICES are
// answered directly against the configured device/proxy tables.
type fakeBus struct {
	devices map[UID]bool
	muted   map[UID]bool
	proxied map[UID][]UID
	ours    UID
}

func newFakeBus(ours UID, devices []UID) *fakeBus {
	b := &fakeBus{
		devices: make(map[UID]bool),
		muted:   make(map[UID]bool),
		proxied: make(map[UID][]UID),
		ours:    ours,
	}
	for _, d := range devices {
		b.devices[d] = true
	}
	return b
}

func (b *fakeBus) Reopen(ctx context.Context) error { return nil }

func (b *fakeBus) WriteRDM(ctx context.Context, buf []byte, expectDUB bool) ([]byte, error) {
	// Requests may be addressed to any device's own UID, not to b.ours, so
	// this uses the dest-check-free frame decoder rather than the public
	// Decode (which validates dest against a single controller UID).
	req, err := decodeFrame(withStartCode(buf))
	if err != nil {
		return nil, err
	}

	switch {
	case req.CC == CCDiscover && req.PID == PIDDiscUniqueBranch:
		lo := ReadUID(req.PData[0:6])
		hi := ReadUID(req.PData[6:12])
		var inRange []UID
		for d := range b.devices {
			if !b.muted[d] && d >= lo && d <= hi {
				inRange = append(inRange, d)
			}
		}
		switch len(inRange) {
		case 0:
			return nil, nil
		case 1:
			return EncodeDUB(inRange[0], 0), nil
		default:
			// Collision: a delimiter, non-zero UID-encoding bytes, and a
			// checksum of all-zero bytes — guaranteed to mismatch, the
			// same way two overlapping real responses jam each other.
			return []byte{
				0xAA,
				0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB,
				0, 0, 0, 0,
			}, nil
		}

	case req.CC == CCDiscover && req.PID == PIDDiscUnmute:
		for d := range b.muted {
			b.muted[d] = false
		}
		return nil, nil

	case req.CC == CCDiscover && req.PID == PIDDiscMute:
		if !b.devices[req.Dest] {
			return nil, nil
		}
		b.muted[req.Dest] = true
		resp := &Packet{Dest: b.ours, Src: req.Dest, CC: CCDiscoverResp, PID: PIDDiscMute, PortIDOrResponse: RespACK}
		if _, isProxy := b.proxied[req.Dest]; isProxy {
			resp.PData = []byte{0x00, 0x01}
		}
		return withStartCode(resp.Encode()), nil

	case req.CC == CCGet && req.PID == PIDProxiedDevices:
		list := b.proxied[req.Dest]
		pdata := make([]byte, 0, 6*len(list))
		for _, u := range list {
			var buf [6]byte
			WriteUID(buf[:], u)
			pdata = append(pdata, buf[:]...)
		}
		resp := &Packet{Dest: b.ours, Src: req.Dest, CC: CCGetResp, PID: PIDProxiedDevices, PortIDOrResponse: RespACK, PData: pdata}
		return withStartCode(resp.Encode()), nil

	case req.CC == CCGet && req.PID == PIDProxyDevCount:
		resp := &Packet{Dest: b.ours, Src: req.Dest, CC: CCGetResp, PID: PIDProxyDevCount, PortIDOrResponse: RespACK, PData: []byte{0, 0, 0}}
		return withStartCode(resp.Encode()), nil
	}

	return nil, nil
}

func sortedUIDs(uids []UID) []UID {
	out := append([]UID(nil), uids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestFullDiscoveryFindsExactSet(t *testing.T) {
	ours := UID(0x7A7000000000)
	want := []UID{1, 2, 3}
	bus := newFakeBus(ours, want)

	engine := NewEngine(bus, ours)
	disc := NewDiscovery(engine, NewInventory())

	added, removed := disc.FullDiscovery(context.Background())
	if len(removed) != 0 {
		t.Fatalf("expected no removals on first discovery, got %v", removed)
	}
	if got := sortedUIDs(added); !uidSlicesEqual(got, want) {
		t.Fatalf("added = %v, want %v", got, want)
	}
	if got := sortedUIDs(disc.Inventory.TOD()); !uidSlicesEqual(got, want) {
		t.Fatalf("tod = %v, want %v", got, want)
	}
}

func TestFullDiscoveryExpandsProxiedDevices(t *testing.T) {
	ours := UID(0x7A7000000000)
	proxy := UID(500)
	hidden := []UID{600, 601}
	bus := newFakeBus(ours, []UID{proxy})
	bus.proxied[proxy] = hidden

	engine := NewEngine(bus, ours)
	disc := NewDiscovery(engine, NewInventory())

	added, _ := disc.FullDiscovery(context.Background())
	want := append([]UID{proxy}, hidden...)
	if got := sortedUIDs(added); !uidSlicesEqual(got, sortedUIDs(want)) {
		t.Fatalf("added = %v, want %v", got, want)
	}
	if !disc.Inventory.IsProxy(proxy) {
		t.Fatalf("expected %s to be recorded as a proxy", proxy)
	}
}

func TestReentrantIncrementalDiscoveryNoOps(t *testing.T) {
	ours := UID(0x7A7000000000)
	bus := newFakeBus(ours, []UID{1})
	engine := NewEngine(bus, ours)
	disc := NewDiscovery(engine, NewInventory())
	disc.inProgress = true

	found, lost := disc.IncrementalDiscovery(context.Background())
	if found != nil || lost != nil {
		t.Fatalf("re-entrant call should return empty, got found=%v lost=%v", found, lost)
	}
}

func uidSlicesEqual(a, b []UID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
