package detector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/picketline/dom"
	"github.com/use-agent/picketline/metrics"
)

// Trigger names why a scan ran.
type Trigger string

const (
	TriggerMutation Trigger = "mutation"
	TriggerRescan   Trigger = "rescan"
)

// Callback receives newly found slots inside the write transaction of the
// scan that found them, so it can replace them before anything else runs.
type Callback func(tx *dom.Tx, ads []Candidate, trigger Trigger)

// Handle stops continuous detection.
type Handle interface {
	// Disconnect stops observation and rescans. It is safe to call more than once.
	Disconnect()
}

type noopHandle struct{}

func (noopHandle) Disconnect() {}

type observation struct {
	d   *Detector
	doc *dom.Document
	cb  Callback

	stopped   atomic.Bool
	once      sync.Once
	stop      chan struct{}
	unobserve func()

	mu    sync.Mutex
	timer *time.Timer
}

// ObserveNewAds keeps scanning doc as it changes: mutation batches under
// <body> are debounced into one full scan, and a bounded periodic rescan
// catches slots that fill without any observed mutation. Only non-empty
// results reach cb. A document that cannot be observed gets a no-op handle.
func (d *Detector) ObserveNewAds(doc *dom.Document, cb Callback) Handle {
	if doc == nil || cb == nil {
		return noopHandle{}
	}
	o := &observation{d: d, doc: doc, cb: cb, stop: make(chan struct{})}

	unobserve, ok := doc.Observe(dom.ObserveOptions{
		Subtree:         true,
		ChildList:       true,
		Attributes:      true,
		AttributeFilter: []string{"src", "class", "style"},
	}, o.onMutations)
	if !ok {
		d.logger.Debug("mutation observation unavailable, continuous detection disabled")
		return noopHandle{}
	}
	o.unobserve = unobserve

	go o.rescanLoop()
	return o
}

func (o *observation) onMutations([]dom.Mutation) {
	if o.stopped.Load() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped.Load() {
		return
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(o.d.opts.Debounce, func() { o.scan(TriggerMutation) })
}

func (o *observation) rescanLoop() {
	ticker := time.NewTicker(o.d.opts.RescanInterval)
	defer ticker.Stop()
	for i := 0; i < o.d.opts.MaxRescans; i++ {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.scan(TriggerRescan)
		}
	}
}

func (o *observation) scan(trigger Trigger) {
	if o.stopped.Load() {
		return
	}
	_ = o.doc.Update(func(tx *dom.Tx) error {
		if o.stopped.Load() {
			return nil
		}
		start := time.Now()
		ads := o.d.Scan(tx, tx.Root())
		metrics.Scans.WithLabelValues(string(trigger)).Inc()
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
		if len(ads) > 0 {
			o.cb(tx, ads, trigger)
		}
		return nil
	})
}

func (o *observation) Disconnect() {
	o.once.Do(func() {
		o.stopped.Store(true)
		close(o.stop)
		o.mu.Lock()
		if o.timer != nil {
			o.timer.Stop()
		}
		o.mu.Unlock()
		o.unobserve()
	})
}
