package engine

import (
	"sync"
	"time"
)

// DomainMemory remembers which fetch engine last succeeded for a host, so
// auto mode can go straight to the browser for sites whose static HTML
// failed before. A nil *DomainMemory remembers nothing.
type DomainMemory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	winners map[string]winner

	done     chan struct{}
	stopOnce sync.Once
}

type winner struct {
	engine  string
	expires time.Time
}

// NewDomainMemory creates a DomainMemory whose entries live for ttl. Expired
// entries are pruned hourly until Stop.
func NewDomainMemory(ttl time.Duration) *DomainMemory {
	dm := &DomainMemory{
		ttl:     ttl,
		now:     time.Now,
		winners: make(map[string]winner),
		done:    make(chan struct{}),
	}
	go dm.pruneLoop(time.Hour)
	return dm
}

// Get returns the remembered engine for host, or "".
func (dm *DomainMemory) Get(host string) string {
	if dm == nil {
		return ""
	}
	dm.mu.RLock()
	w, ok := dm.winners[host]
	dm.mu.RUnlock()
	if !ok || dm.now().After(w.expires) {
		return ""
	}
	return w.engine
}

// Set records the engine that succeeded for host.
func (dm *DomainMemory) Set(host, engineName string) {
	if dm == nil {
		return
	}
	dm.mu.Lock()
	dm.winners[host] = winner{engine: engineName, expires: dm.now().Add(dm.ttl)}
	dm.mu.Unlock()
}

// Delete forgets host.
func (dm *DomainMemory) Delete(host string) {
	if dm == nil {
		return
	}
	dm.mu.Lock()
	delete(dm.winners, host)
	dm.mu.Unlock()
}

// Len reports how many hosts are remembered, expired or not.
func (dm *DomainMemory) Len() int {
	if dm == nil {
		return 0
	}
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return len(dm.winners)
}

// Stop ends the prune loop.
func (dm *DomainMemory) Stop() {
	if dm == nil {
		return
	}
	dm.stopOnce.Do(func() { close(dm.done) })
}

func (dm *DomainMemory) prune() int {
	now := dm.now()
	dm.mu.Lock()
	defer dm.mu.Unlock()
	n := 0
	for host, w := range dm.winners {
		if now.After(w.expires) {
			delete(dm.winners, host)
			n++
		}
	}
	return n
}

func (dm *DomainMemory) pruneLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-dm.done:
			return
		case <-ticker.C:
			dm.prune()
		}
	}
}
