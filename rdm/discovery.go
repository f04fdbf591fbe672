package rdm

import "context"

// Discovery runs the binary-tree DUB search and incremental reconciliation
// for one port, against its Inventory, via its Engine.
type Discovery struct {
	Engine    *Engine
	Inventory *Inventory

	// inProgress guards re-entrancy. The RDM worker is single-threaded per
	// port (spec.md §4.5), so a plain bool suffices.
	inProgress bool
}

// NewDiscovery returns a Discovery bound to engine and inv.
func NewDiscovery(engine *Engine, inv *Inventory) *Discovery {
	return &Discovery{Engine: engine, Inventory: inv}
}

// dubOutcome is the three-way result of one DISC_UNIQUE_BRANCH probe.
type dubOutcome int

const (
	dubEmpty dubOutcome = iota
	dubSingle
	dubCollision
)

func (d *Discovery) sendDUB(ctx context.Context, lo, hi UID) (dubOutcome, UID) {
	pdata := make([]byte, 12)
	WriteUID(pdata[0:6], lo)
	WriteUID(pdata[6:12], hi)

	pkt := &Packet{
		Dest:  UIDBroadcast,
		Src:   d.Engine.Ours,
		CC:    CCDiscover,
		PID:   PIDDiscUniqueBranch,
		PData: pdata,
	}
	raw, err := d.Engine.Transport.WriteRDM(ctx, pkt.Encode(), true)
	if err != nil || len(raw) == 0 {
		return dubEmpty, 0
	}
	uid, err := DecodeDUB(raw)
	if err != nil {
		return dubCollision, 0
	}
	return dubSingle, uid
}

// sendMute transacts a DISCOVER/MUTE (or UNMUTE) with uid. Success iff at
// least one response packet was returned and its source matches uid.
func (d *Discovery) sendMute(ctx context.Context, uid UID, unmute bool) (ok, isProxy bool) {
	pid := PIDDiscMute
	if unmute {
		pid = PIDDiscUnmute
	}
	pkt := &Packet{
		Dest: uid,
		Src:  d.Engine.Ours,
		CC:   CCDiscover,
		PID:  pid,
	}
	resp := d.Engine.Send(ctx, pkt, 0, 0)
	if len(resp) == 0 || resp[0].Src != uid {
		return false, false
	}
	if len(resp[0].PData) == 2 || len(resp[0].PData) == 8 {
		control := uint16BE(resp[0].PData[:2])
		isProxy = control&ManagedProxyBit != 0
	}
	return true, isProxy
}

// getProxyTOD fetches proxy's PROXIED_DEVICES list, deduplicated against
// the caller-supplied exclude set.
func (d *Discovery) getProxyTOD(ctx context.Context, proxy UID, exclude []UID) []UID {
	pkt := &Packet{
		Dest: proxy,
		Src:  d.Engine.Ours,
		CC:   CCGet,
		PID:  PIDProxiedDevices,
	}
	resps := d.Engine.Send(ctx, pkt, defaultRetries, 0)

	var out []UID
	for _, r := range resps {
		if len(r.PData) > 0xE4 {
			continue
		}
		for off := 0; off+6 <= len(r.PData); off += 6 {
			uid := ReadUID(r.PData[off : off+6])
			if !containsUID(exclude, uid) && !containsUID(out, uid) {
				out = append(out, uid)
			}
		}
	}
	return out
}

// hasProxyTODChanged fetches PROXY_DEV_COUNT and reports its changed flag.
func (d *Discovery) hasProxyTODChanged(ctx context.Context, proxy UID) bool {
	pkt := &Packet{
		Dest: proxy,
		Src:  d.Engine.Ours,
		CC:   CCGet,
		PID:  PIDProxyDevCount,
	}
	resps := d.Engine.Send(ctx, pkt, defaultRetries, 0)
	if len(resps) == 0 || len(resps[0].PData) != 3 {
		return false
	}
	return resps[0].PData[2] != 0
}

// discover is the binary-tree DUB search over [lo, hi], unioning results
// in first-seen order and deduplicating proxy-reported devices.
func (d *Discovery) discover(ctx context.Context, lo, hi UID, proxyOf map[UID]bool) []UID {
	var muteUID UID
	if lo == hi {
		muteUID = lo
	} else {
		outcome, uid := d.sendDUB(ctx, lo, hi)
		switch outcome {
		case dubEmpty:
			return nil
		case dubSingle:
			muteUID = uid
		case dubCollision:
			mid := lo + (hi-lo+1)/2 - 1
			left := d.discover(ctx, lo, mid, proxyOf)
			right := d.discover(ctx, mid+1, hi, proxyOf)
			var out []UID
			for _, u := range left {
				if !containsUID(out, u) {
					out = append(out, u)
				}
			}
			for _, u := range right {
				if !containsUID(out, u) {
					out = append(out, u)
				}
			}
			return out
		}
	}

	ok, isProxy := d.sendMute(ctx, muteUID, false)
	if !ok {
		return nil
	}

	out := []UID{muteUID}
	if isProxy {
		proxyOf[muteUID] = true
		proxied := d.getProxyTOD(ctx, muteUID, out)
		for _, u := range proxied {
			if !containsUID(out, u) {
				out = append(out, u)
			}
		}
	}
	return out
}

// FullDiscovery clears lost/proxies, issues a broadcast DISC_UNMUTE, then
// runs discover(0, UID_MAX). The resulting set replaces the inventory's
// TOD; the added/removed deltas are returned for publication.
func (d *Discovery) FullDiscovery(ctx context.Context) (added, removed []UID) {
	d.Inventory.ResetForFullDiscovery()

	unmute := &Packet{Dest: UIDBroadcast, Src: d.Engine.Ours, CC: CCDiscover, PID: PIDDiscUnmute}
	d.Engine.Send(ctx, unmute, 0, 0)

	proxyOf := make(map[UID]bool)
	found := d.discover(ctx, 0, UIDMax, proxyOf)

	return d.Inventory.ReplaceTOD(found, proxyOf)
}

// IncrementalDiscovery re-verifies the existing TOD and lost set, searches
// for newcomers, and expands any proxy whose device list changed. Returns
// empty results immediately if a discovery is already in progress on this
// port.
func (d *Discovery) IncrementalDiscovery(ctx context.Context) (found, newLost []UID) {
	if d.inProgress {
		return nil, nil
	}
	d.inProgress = true
	defer func() { d.inProgress = false }()

	unmute := &Packet{Dest: UIDBroadcast, Src: d.Engine.Ours, CC: CCDiscover, PID: PIDDiscUnmute}
	d.Engine.Send(ctx, unmute, 0, 0)

	proxyUpdates := make(map[UID]bool)
	var foundList, lostList []UID
	newlyPromoted := make(map[UID]bool)

	for _, uid := range d.Inventory.TOD() {
		ok, isProxy := d.sendMute(ctx, uid, false)
		if !ok {
			lostList = append(lostList, uid)
			proxyUpdates[uid] = false
			continue
		}
		if isProxy && !d.Inventory.IsProxy(uid) {
			newlyPromoted[uid] = true
		}
		proxyUpdates[uid] = isProxy
	}

	for _, uid := range d.Inventory.Lost() {
		ok, isProxy := d.sendMute(ctx, uid, false)
		if !ok {
			continue
		}
		foundList = append(foundList, uid)
		if isProxy {
			newlyPromoted[uid] = true
			proxyUpdates[uid] = true
		}
	}

	proxyOf := make(map[UID]bool)
	discovered := d.discover(ctx, 0, UIDMax, proxyOf)
	for uid, isProxy := range proxyOf {
		proxyUpdates[uid] = isProxy
	}

	currentProxies := make(map[UID]bool)
	for _, uid := range d.Inventory.TOD() {
		if d.Inventory.IsProxy(uid) {
			currentProxies[uid] = true
		}
	}
	for uid := range newlyPromoted {
		currentProxies[uid] = true
	}

	exclude := append(append([]UID(nil), d.Inventory.TOD()...), discovered...)
	for proxy := range currentProxies {
		if !newlyPromoted[proxy] && !d.hasProxyTODChanged(ctx, proxy) {
			continue
		}
		proxied := d.getProxyTOD(ctx, proxy, exclude)
		for _, u := range proxied {
			if !containsUID(discovered, u) {
				discovered = append(discovered, u)
				exclude = append(exclude, u)
			}
		}
	}

	for _, uid := range discovered {
		lostList = removeUID(lostList, uid)
		if !containsUID(d.Inventory.TOD(), uid) && !containsUID(foundList, uid) {
			foundList = append(foundList, uid)
		}
	}

	d.Inventory.ApplyIncremental(foundList, lostList, proxyUpdates)
	return foundList, lostList
}
