package actions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/picketline/metrics"
	"github.com/use-agent/picketline/models"
)

// Connection states reported by Status.
const (
	ConnectionUnknown = "unknown"
	ConnectionOnline  = "online"
	ConnectionOffline = "offline"
)

// offlineAfter is the number of consecutive failed refreshes that marks the
// upstream offline.
const offlineAfter = 3

// Status describes the repository's view of the upstream.
type Status = models.ActionsStatus

// Repository serves the current action list from its store, refetching
// when the cached snapshot is older than the TTL.
type Repository struct {
	src    Source
	store  Store
	ttl    time.Duration
	logger *slog.Logger

	// refreshMu serializes upstream fetches.
	refreshMu sync.Mutex

	mu     sync.RWMutex
	status Status
	logos  map[string]string
}

// NewRepository returns a Repository. A nil store keeps snapshots in memory.
func NewRepository(src Source, store Store, ttl time.Duration, logger *slog.Logger) *Repository {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Repository{
		src:    src,
		store:  store,
		ttl:    ttl,
		logger: logger,
		status: Status{Connection: ConnectionUnknown, Source: src.Name()},
		logos:  map[string]string{},
	}
}

// Actions returns the current list. A fresh snapshot is served as is; an
// expired or missing one triggers a fetch. When the fetch fails the stale
// snapshot is served, and with no snapshot at all the list is empty.
func (r *Repository) Actions(ctx context.Context) []models.LaborAction {
	snap, err := r.store.Load(ctx)
	if err != nil {
		r.logger.Warn("load action snapshot", "error", err)
		snap = nil
	}
	if snap != nil && time.Since(snap.FetchedAt) < r.ttl {
		r.adoptLogos(snap)
		return snap.Actions
	}

	fresh, err := r.refreshExpired(ctx)
	if err == nil {
		return fresh
	}
	if snap != nil {
		r.logger.Info("serving stale labor actions", "age", time.Since(snap.FetchedAt).Round(time.Second).String())
		r.adoptLogos(snap)
		return snap.Actions
	}
	return []models.LaborAction{}
}

// refreshExpired fetches unless another caller stored a fresh snapshot
// while this one waited for refreshMu.
func (r *Repository) refreshExpired(ctx context.Context) ([]models.LaborAction, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	if snap, err := r.store.Load(ctx); err == nil && snap != nil && time.Since(snap.FetchedAt) < r.ttl {
		r.adoptLogos(snap)
		return snap.Actions, nil
	}
	return r.fetchLocked(ctx)
}

// Refresh fetches from the source and stores the result.
func (r *Repository) Refresh(ctx context.Context) ([]models.LaborAction, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	return r.fetchLocked(ctx)
}

func (r *Repository) fetchLocked(ctx context.Context) ([]models.LaborAction, error) {
	snap, err := r.src.Fetch(ctx)
	if err == nil {
		err = r.store.Save(ctx, snap)
	}
	if err != nil {
		metrics.ActionRefreshes.WithLabelValues("error").Inc()
		r.mu.Lock()
		r.status.Failures++
		r.status.LastError = err.Error()
		if r.status.Failures >= offlineAfter {
			r.status.Connection = ConnectionOffline
		}
		failures := r.status.Failures
		r.mu.Unlock()
		r.logger.Error("failed to refresh labor actions", "source", r.src.Name(), "failures", failures, "error", err)
		return nil, err
	}

	metrics.ActionRefreshes.WithLabelValues("ok").Inc()
	r.mu.Lock()
	r.status.Connection = ConnectionOnline
	r.status.Failures = 0
	r.status.LastError = ""
	r.status.LastRefresh = snap.FetchedAt
	r.status.Count = len(snap.Actions)
	r.logos = snap.Logos
	r.mu.Unlock()
	r.logger.Info("labor actions refreshed", "source", r.src.Name(), "count", len(snap.Actions))
	return snap.Actions, nil
}

func (r *Repository) adoptLogos(snap *Snapshot) {
	if len(snap.Logos) == 0 {
		return
	}
	r.mu.Lock()
	r.logos = snap.Logos
	r.mu.Unlock()
}

// Status returns the connection state.
func (r *Repository) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// ClearCache drops the stored snapshot so the next Actions call fetches.
func (r *Repository) ClearCache(ctx context.Context) error {
	return r.store.Clear(ctx)
}

// LogoFor looks up a company logo in the index of the last snapshot.
func (r *Repository) LogoFor(company string) (string, bool) {
	key := models.NormalizeCompany(company)
	if key == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	logo, ok := r.logos[key]
	return logo, ok && logo != ""
}
