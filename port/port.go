// Package port implements spec.md §4.5's per-port concurrency model: one
// DMX worker and one RDM worker sharing a transport, a data mutex guarding
// O(1) queue/slot operations, and counting semaphores that let periodic
// refresh/scan work proceed when no new signal arrives.
package port

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/openlighting/ordmbridge/rdm"
	"github.com/openlighting/ordmbridge/transport"
)

const (
	// semaphoreCapacity is spec.md §5's 0xFFFF counting-semaphore cap.
	semaphoreCapacity = 0xFFFF

	// DMXRefreshInterval / RDMSemaTimeout are spec.md §4.5's worker-loop
	// timed-wait periods.
	DMXRefreshInterval = 50 * time.Millisecond
	RDMSemaTimeout     = 1000 * time.Millisecond

	// IncrementalScanInterval is spec.md §4.5's periodic incremental
	// discovery cadence when enabled.
	IncrementalScanInterval = 5 * time.Minute

	// ReinitBackoff is how long a worker waits before retrying an
	// uninitialized transport (spec.md §4.5, §7).
	ReinitBackoff = time.Second
)

// Upstream is the set of operations the core invokes on its ArtNet
// collaborator (spec.md §6's "upstream operations"): publishing TOD
// changes and sending RDM replies back to the controller.
type Upstream interface {
	PublishRDMDevices(portIndex int, uids []rdm.UID)
	RemoveRDMDevice(portIndex int, uid rdm.UID)
	SendRDM(portIndex int, universe int, data []byte)
}

// Config is one port's static configuration.
type Config struct {
	Universe             int
	Device                string
	RDMEnabled            bool
	IncrementalDiscovery bool
}

// Port owns one physical bus: its transport, inventory, discovery/
// transaction engines, queues, semaphores, and worker goroutines. Exactly
// the "owned Port value" design note from spec.md §9 — no global arrays.
type Port struct {
	Index  int
	Config Config

	// dataMu guards dmx and rdm below; held only for O(1) ops, never
	// during bus I/O, per spec.md §5.
	dataMu sync.Mutex
	dmx    dmxSlot
	rdm    rdmQueue

	// transportMu serializes all bus I/O between the DMX and RDM workers.
	transportMu sync.Mutex
	transport   transport.Transport

	dmxSem *semaphore.Weighted
	rdmSem *semaphore.Weighted

	ours      rdm.UID
	engine    *rdm.Engine
	discovery *rdm.Discovery
	inventory *rdm.Inventory

	upstream Upstream

	lastDMXWrite time.Time
	lastScan     time.Time

	wg sync.WaitGroup
}

// New builds a Port bound to tr, identifying itself on the bus with a UID
// derived from cfg.Device (rdm.ControllerUID), publishing to upstream.
func New(index int, cfg Config, tr transport.Transport, upstream Upstream) *Port {
	ours := rdm.ControllerUID(cfg.Device)
	inv := rdm.NewInventory()
	engine := rdm.NewEngine(tr, ours)

	// NewWeighted starts with every unit free; take them all so both
	// semaphores start at zero and each Release is one pending signal.
	dmxSem := semaphore.NewWeighted(semaphoreCapacity)
	rdmSem := semaphore.NewWeighted(semaphoreCapacity)
	dmxSem.TryAcquire(semaphoreCapacity)
	rdmSem.TryAcquire(semaphoreCapacity)

	return &Port{
		Index:     index,
		Config:    cfg,
		transport: tr,
		dmxSem:    dmxSem,
		rdmSem:    rdmSem,
		ours:      ours,
		engine:    engine,
		discovery: rdm.NewDiscovery(engine, inv),
		inventory: inv,
		upstream:  upstream,
	}
}

// OwnUID returns this port's derived controller UID.
func (p *Port) OwnUID() rdm.UID { return p.ours }

// EnqueueDMX deposits the latest DMX frame (latest-wins, spec.md §5) and
// signals the DMX worker.
func (p *Port) EnqueueDMX(slots []byte) {
	p.dataMu.Lock()
	p.dmx.set(slots)
	p.dataMu.Unlock()

	p.dmxSem.Release(1)
}

// EnqueueRDM pushes an RDM request (or a zero-length full-discovery
// sentinel) onto the FIFO and signals the RDM worker.
func (p *Port) EnqueueRDM(data []byte) {
	p.dataMu.Lock()
	p.rdm.push(rdmRequest{Universe: p.Config.Universe, Data: data})
	p.dataMu.Unlock()

	p.rdmSem.Release(1)
}

// Start launches the DMX and RDM worker goroutines; they run until ctx is
// cancelled.
func (p *Port) Start(ctx context.Context) {
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.dmxWorker(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.rdmWorker(ctx)
	}()
}

// Wait blocks until both worker goroutines have exited (spec.md §5: "the
// main thread joins all workers").
func (p *Port) Wait() { p.wg.Wait() }

// Close closes the underlying transport. Call after Wait.
func (p *Port) Close() error {
	p.transportMu.Lock()
	defer p.transportMu.Unlock()
	return p.transport.Close()
}

// acquireTimed waits on sem with a bounded timeout, returning true if
// signaled and false on timeout — the Go idiom for
// std::counting_semaphore::try_acquire_for, per SPEC_FULL.md §5.
func acquireTimed(ctx context.Context, sem *semaphore.Weighted, timeout time.Duration) bool {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return sem.Acquire(wctx, 1) == nil
}
