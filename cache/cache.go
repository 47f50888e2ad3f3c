// Package cache keeps recent rewrite responses so repeated requests for the
// same page and options skip the fetch.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sync"
	"time"

	"github.com/use-agent/picketline/metrics"
	"github.com/use-agent/picketline/models"
)

const (
	defaultMaxEntries = 1000
	maxEntryAge       = time.Hour
	sweepInterval     = 5 * time.Minute
)

type entry struct {
	resp   *models.RewriteResponse
	stored time.Time
}

// Cache is an in-memory cache of rewrite responses, safe for concurrent
// use. At capacity the oldest entry makes room for a new one.
type Cache struct {
	max int
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry

	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates a Cache holding at most maxEntries rewrites. Entries older
// than an hour are swept every 5 minutes until Close.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	c := &Cache{
		max:     maxEntries,
		now:     time.Now,
		entries: make(map[string]entry),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// KeyParts are the request fields that change a rewrite's output.
type KeyParts struct {
	URL       string
	Mode      string
	InjectAds bool
	FetchMode string
	BlockAds  bool

	// HTML is the supplied page, empty when the page is fetched.
	HTML string
}

// Key hashes the parts into a cache key. Fields are length-prefixed so no
// two different part sets share an encoding.
func Key(p KeyParts) string {
	h := sha256.New()
	for _, s := range []string{p.URL, p.Mode, p.FetchMode} {
		writeField(h, []byte(s))
	}
	var flags byte
	if p.InjectAds {
		flags |= 1
	}
	if p.BlockAds {
		flags |= 2
	}
	h.Write([]byte{flags})
	if p.HTML != "" {
		sum := sha256.Sum256([]byte(p.HTML))
		writeField(h, sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, b []byte) {
	var n [binary.MaxVarintLen64]byte
	h.Write(n[:binary.PutUvarint(n[:], uint64(len(b)))])
	h.Write(b)
}

// Get returns the response stored under key when it is younger than
// maxAgeMs milliseconds. maxAgeMs <= 0 always misses.
func (c *Cache) Get(key string, maxAgeMs int) (*models.RewriteResponse, bool) {
	if maxAgeMs <= 0 {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	switch {
	case !ok:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	case c.now().Sub(e.stored) > time.Duration(maxAgeMs)*time.Millisecond:
		metrics.CacheLookups.WithLabelValues("stale").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.resp, true
}

// Set stores resp under key.
func (c *Cache) Set(key string, resp *models.RewriteResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.max {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{resp: resp, stored: c.now()}
}

func (c *Cache) evictOldestLocked() {
	var (
		oldest string
		at     time.Time
	)
	for k, e := range c.entries {
		if oldest == "" || e.stored.Before(at) {
			oldest, at = k, e.stored
		}
	}
	delete(c.entries, oldest)
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (c *Cache) Close() {
	c.once.Do(func() {
		close(c.quit)
		<-c.done
	})
}

func (c *Cache) sweepLoop() {
	defer close(c.done)
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-t.C:
			c.sweep(c.now().Add(-maxEntryAge))
		}
	}
}

// sweep drops entries stored before cutoff and reports how many went.
func (c *Cache) sweep(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.stored.Before(cutoff) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
