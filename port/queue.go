package port

import "github.com/openlighting/ordmbridge/rdm"

// dmxSlot is the single-slot, latest-wins DMX buffer spec.md §3 and §5
// describe: callbacks overwrite it; the worker drains whatever is there.
type dmxSlot struct {
	changed bool
	data    []byte
}

func (s *dmxSlot) set(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	s.data = buf
	s.changed = true
}

// take returns the buffered frame and clears changed, or reports
// unchanged if nothing new has arrived since the last take.
func (s *dmxSlot) take() (data []byte, changed bool) {
	if !s.changed {
		return nil, false
	}
	s.changed = false
	return s.data, true
}

// rdmRequest is one FIFO entry for the RDM worker. A zero-length Data
// means "initiate full discovery" (spec.md §3's RDMMessage with length 0).
type rdmRequest struct {
	Universe int
	Data     []byte
}

func (r rdmRequest) isDiscoveryInitiate() bool { return len(r.Data) == 0 }

// rdmQueue is the per-port FIFO the ArtNet callback enqueues into and the
// RDM worker drains, both under the port's data_mutex.
type rdmQueue struct {
	items []rdmRequest
}

func (q *rdmQueue) push(r rdmRequest) {
	q.items = append(q.items, r)
}

func (q *rdmQueue) pop() (rdmRequest, bool) {
	if len(q.items) == 0 {
		return rdmRequest{}, false
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r, true
}

// uidList is a small helper for building publish/remove deltas without
// importing rdm into every file that just needs the type name.
type uidList = []rdm.UID
