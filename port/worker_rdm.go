package port

import (
	"context"
	"time"

	"github.com/openlighting/ordmbridge/rdm"
)

// rdmWorker is spec.md §4.5's RDM worker loop: wait on the RDM semaphore
// with an RDMSemaTimeout timeout; if signaled, pop one queued request and
// either run full discovery (zero-length sentinel) or transact it through
// the Transaction Engine, publishing responses back upstream. Runs an
// incremental scan every IncrementalScanInterval when enabled.
func (p *Port) rdmWorker(ctx context.Context) {
	p.lastScan = time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		signaled := acquireTimed(ctx, p.rdmSem, RDMSemaTimeout)
		if ctx.Err() != nil {
			return
		}

		if signaled {
			p.dataMu.Lock()
			req, ok := p.rdm.pop()
			p.dataMu.Unlock()
			if ok {
				p.handleRDMRequest(ctx, req)
			}
		}

		if p.Config.IncrementalDiscovery && time.Since(p.lastScan) >= IncrementalScanInterval {
			p.runIncrementalDiscovery(ctx)
			p.lastScan = time.Now()
		}
	}
}

// handleRDMRequest re-enters the codec on an already-assembled request
// body arriving from the network (spec.md §4.5: "what arrives from
// ArtNet is already a well-formed RDM body"), runs it through the
// Transaction Engine, and publishes every accumulated response upstream
// with its start_code stripped — the same convention the inbound body
// used.
func (p *Port) handleRDMRequest(ctx context.Context, req rdmRequest) {
	if req.isDiscoveryInitiate() {
		p.runFullDiscovery(ctx)
		return
	}

	pkt, err := rdm.DecodeRequestBody(req.Data)
	if err != nil {
		return
	}

	p.transportMu.Lock()
	responses := p.engine.Send(ctx, pkt, 0, 0)
	p.transportMu.Unlock()

	for _, resp := range responses {
		p.upstream.SendRDM(p.Index, req.Universe, resp.Encode())
	}
}

func (p *Port) runFullDiscovery(ctx context.Context) {
	p.transportMu.Lock()
	_, removed := p.discovery.FullDiscovery(ctx)
	p.transportMu.Unlock()

	// A full discovery publishes the whole table of devices, not just the
	// UIDs it added.
	p.upstream.PublishRDMDevices(p.Index, p.inventory.TOD())
	p.publishDelta(nil, removed)
}

func (p *Port) runIncrementalDiscovery(ctx context.Context) {
	p.transportMu.Lock()
	found, lost := p.discovery.IncrementalDiscovery(ctx)
	p.transportMu.Unlock()

	p.publishDelta(found, lost)
}

func (p *Port) publishDelta(added, removed []rdm.UID) {
	if len(added) > 0 {
		p.upstream.PublishRDMDevices(p.Index, added)
	}
	for _, uid := range removed {
		p.upstream.RemoveRDMDevice(p.Index, uid)
	}
}
