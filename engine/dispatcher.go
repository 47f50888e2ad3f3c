package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/use-agent/picketline/metrics"
	"github.com/use-agent/picketline/models"
)

// Dispatcher picks the engine for a fetch mode. In auto mode it races the
// engines with staged escalation: the first starts at once, later ones
// only if earlier ones have not succeeded after their delay.
type Dispatcher struct {
	engines []Engine
	delays  []time.Duration
	memory  *DomainMemory
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. engines[i] starts after delays[i] in
// auto mode; missing delays are zero. memory may be nil.
func NewDispatcher(engines []Engine, delays []time.Duration, memory *DomainMemory, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		engines: engines,
		delays:  make([]time.Duration, len(engines)),
		memory:  memory,
		logger:  logger,
	}
	copy(d.delays, delays)
	return d
}

// Engine returns the engine registered under name.
func (d *Dispatcher) Engine(name string) (Engine, bool) {
	for _, e := range d.engines {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// Fetch runs req with the engine for mode, or races them when mode is auto
// or empty.
func (d *Dispatcher) Fetch(ctx context.Context, mode string, req *FetchRequest) (*FetchResult, error) {
	if mode != "" && mode != ModeAuto {
		eng, ok := d.Engine(mode)
		if !ok {
			return nil, models.NewPicketError(models.ErrCodeInvalidInput, fmt.Sprintf("fetch mode %q is not available", mode), nil)
		}
		return d.run(ctx, eng, req)
	}
	if len(d.engines) == 0 {
		return nil, models.NewPicketError(models.ErrCodeFetchFailed, "no fetch engines configured", nil)
	}

	host := hostOf(req.URL)
	if name := d.memory.Get(host); name != "" {
		if eng, ok := d.Engine(name); ok {
			res, err := d.run(ctx, eng, req)
			if err == nil {
				return res, nil
			}
			d.logger.Info("remembered engine failed, racing all engines",
				"host", host, "engine", name, "error", err)
			d.memory.Delete(host)
		}
	}
	return d.race(ctx, req, host)
}

func (d *Dispatcher) run(ctx context.Context, eng Engine, req *FetchRequest) (*FetchResult, error) {
	res, err := eng.Fetch(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Fetches.WithLabelValues(eng.Name(), outcome).Inc()
	return res, err
}

type attempt struct {
	engine string
	res    *FetchResult
	err    error
}

// race starts the engines on their delays and returns the first success.
// An input error ends the race at once since no engine can recover from it.
func (d *Dispatcher) race(ctx context.Context, req *FetchRequest, host string) (*FetchResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so losers never block after the winner returns.
	attempts := make(chan attempt, len(d.engines))
	for i, eng := range d.engines {
		go d.start(ctx, eng, d.delays[i], req, attempts)
	}

	var lastErr error
	for range d.engines {
		a := <-attempts
		switch {
		case a.err == nil:
			d.logger.Info("engine won race", "engine", a.engine, "url", req.URL)
			d.memory.Set(host, a.engine)
			return a.res, nil
		case isInputError(a.err):
			return nil, a.err
		case !errors.Is(a.err, errSkipped):
			d.logger.Debug("engine failed", "engine", a.engine, "url", req.URL, "error", a.err)
			lastErr = a.err
		}
	}
	if lastErr == nil {
		lastErr = models.NewPicketError(models.ErrCodeFetchFailed, "all engines failed for "+req.URL, ctx.Err())
	}
	return nil, lastErr
}

var errSkipped = errors.New("race ended before engine started")

func (d *Dispatcher) start(ctx context.Context, eng Engine, delay time.Duration, req *FetchRequest, out chan<- attempt) {
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			out <- attempt{engine: eng.Name(), err: errSkipped}
			return
		case <-t.C:
		}
	}
	if ctx.Err() != nil {
		out <- attempt{engine: eng.Name(), err: errSkipped}
		return
	}
	res, err := d.run(ctx, eng, req)
	out <- attempt{engine: eng.Name(), res: res, err: err}
}

func isInputError(err error) bool {
	var pe *models.PicketError
	return errors.As(err, &pe) && pe.Code == models.ErrCodeInvalidInput
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
