package port

import (
	"context"
	"time"
)

// dmxWorker is spec.md §4.5's DMX worker loop: wait on the DMX semaphore
// with a DMXRefreshInterval timeout; if signaled, take the changed frame
// under dataMu and write it; independently, re-send the last frame if
// more than DMXRefreshInterval has elapsed since the last write, so
// receivers stay in sync even with no new frames.
func (p *Port) dmxWorker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		signaled := acquireTimed(ctx, p.dmxSem, DMXRefreshInterval)
		if ctx.Err() != nil {
			return
		}

		if signaled {
			p.dataMu.Lock()
			data, changed := p.dmx.take()
			p.dataMu.Unlock()
			if changed {
				p.writeDMX(ctx, data)
				continue
			}
		}

		if time.Since(p.lastDMXWrite) >= DMXRefreshInterval {
			p.dataMu.Lock()
			last := p.dmx.data
			p.dataMu.Unlock()
			if last != nil {
				p.writeDMX(ctx, last)
			}
		}
	}
}

func (p *Port) writeDMX(ctx context.Context, data []byte) {
	p.transportMu.Lock()
	err := p.transport.WriteDMX(ctx, data)
	p.transportMu.Unlock()

	if err != nil {
		p.reinitAfterError(ctx)
		return
	}
	p.lastDMXWrite = time.Now()
}

// reinitAfterError backs off ReinitBackoff then attempts to re-init the
// transport when it reports itself uninitialized/unavailable, per
// spec.md §4.5 and §7.
func (p *Port) reinitAfterError(ctx context.Context) {
	timer := time.NewTimer(ReinitBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	p.transportMu.Lock()
	defer p.transportMu.Unlock()
	_ = p.transport.Reopen(ctx)
}
