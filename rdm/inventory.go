package rdm

// Inventory is a port's present-set (TOD), lost-set, and proxy-set. It is
// mutated only by that port's RDM worker goroutine; no internal locking.
//
// Invariants: tod ∩ lost = ∅, proxies ⊆ tod, no UID appears twice in any
// list, order within tod is first-seen order.
type Inventory struct {
	tod     []UID
	lost    []UID
	proxies map[UID]bool
}

// NewInventory returns an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{proxies: make(map[UID]bool)}
}

// TOD returns a snapshot of the present set, in first-seen order.
func (inv *Inventory) TOD() []UID {
	return append([]UID(nil), inv.tod...)
}

// Lost returns a snapshot of the lost set.
func (inv *Inventory) Lost() []UID {
	return append([]UID(nil), inv.lost...)
}

// IsProxy reports whether uid is known to proxy other devices.
func (inv *Inventory) IsProxy(uid UID) bool {
	return inv.proxies[uid]
}

func containsUID(list []UID, uid UID) bool {
	for _, u := range list {
		if u == uid {
			return true
		}
	}
	return false
}

func removeUID(list []UID, uid UID) []UID {
	out := list[:0:0]
	for _, u := range list {
		if u != uid {
			out = append(out, u)
		}
	}
	return out
}

// ResetForFullDiscovery clears lost and proxies ahead of a full scan; tod is
// left untouched until the scan's result is applied via ReplaceTOD.
func (inv *Inventory) ResetForFullDiscovery() {
	inv.lost = nil
	inv.proxies = make(map[UID]bool)
}

// ReplaceTOD installs the result of a full discovery as the new present
// set, classifying proxies from the given set. Returns the UIDs added and
// removed relative to the prior TOD, for publication.
func (inv *Inventory) ReplaceTOD(found []UID, isProxy map[UID]bool) (added, removed []UID) {
	oldTOD := inv.tod
	for _, u := range oldTOD {
		if !containsUID(found, u) {
			removed = append(removed, u)
		}
	}
	for _, u := range found {
		if !containsUID(oldTOD, u) {
			added = append(added, u)
		}
	}
	inv.tod = append([]UID(nil), found...)
	inv.lost = nil
	inv.proxies = make(map[UID]bool)
	for u, p := range isProxy {
		if p && containsUID(inv.tod, u) {
			inv.proxies[u] = true
		}
	}
	return added, removed
}

// ApplyIncremental commits the result of one incremental discovery cycle:
// tod := (tod ∪ found) \ newLost; lost := (lost ∪ newLost) \ found.
func (inv *Inventory) ApplyIncremental(found, newLost []UID, proxyUpdates map[UID]bool) {
	for u, isProxy := range proxyUpdates {
		if isProxy {
			inv.proxies[u] = true
		} else {
			delete(inv.proxies, u)
		}
	}

	for _, u := range newLost {
		if containsUID(found, u) {
			continue
		}
		if !containsUID(inv.lost, u) {
			inv.lost = append(inv.lost, u)
		}
		inv.tod = removeUID(inv.tod, u)
		delete(inv.proxies, u)
	}

	for _, u := range found {
		inv.lost = removeUID(inv.lost, u)
		if !containsUID(inv.tod, u) {
			inv.tod = append(inv.tod, u)
		}
	}
}
