// Package injector replaces detected ad slots with strike cards and owns the
// detection loop that keeps doing so while a page is open.
package injector

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"golang.org/x/net/html"

	"github.com/use-agent/picketline/detector"
	"github.com/use-agent/picketline/dom"
	"github.com/use-agent/picketline/metrics"
	"github.com/use-agent/picketline/models"
)

// CardRenderer builds the replacement for one slot.
type CardRenderer interface {
	RenderStrikeCard(a *models.LaborAction, size detector.Size, rect dom.Size) (*html.Node, error)
}

// Options tunes card sizing and the container guard.
type Options struct {
	// MaxWidth and MaxHeight cap the card size for oversized slots.
	MaxWidth  float64
	MaxHeight float64

	// GuardInterval and GuardChecks bound the loop that re-asserts replaced
	// containers against page scripts collapsing or emptying them.
	GuardInterval time.Duration
	GuardChecks   int

	// OnReplaced runs after the detection loop replaces late slots. It is
	// called inside the document transaction and must not block or touch
	// the document.
	OnReplaced func(n int)
}

// DefaultOptions returns the standard caps and guard schedule.
func DefaultOptions() Options {
	return Options{
		MaxWidth:      970,
		MaxHeight:     600,
		GuardInterval: time.Second,
		GuardChecks:   60,
	}
}

// Handle stops the loop started by one Start call.
type Handle interface {
	Stop()
}

type stubHandle struct{}

func (stubHandle) Stop() {}

// Injector is the per-page replacement state: the action rotation, the set
// of slots already replaced and the live detection loop, if any.
type Injector struct {
	doc      *dom.Document
	det      *detector.Detector
	renderer CardRenderer
	opts     Options
	logger   *slog.Logger

	mu        sync.Mutex
	actions   []models.LaborAction
	idx       int
	processed map[weak.Pointer[html.Node]]struct{}
	guarded   []*guardEntry
	replaced  int
	current   *run
}

// New returns an inactive Injector for doc. A negative GuardChecks disables
// the container guard; zero fields take defaults.
func New(doc *dom.Document, det *detector.Detector, renderer CardRenderer, opts Options, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = def.MaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = def.MaxHeight
	}
	if opts.GuardInterval <= 0 {
		opts.GuardInterval = def.GuardInterval
	}
	if opts.GuardChecks == 0 {
		opts.GuardChecks = def.GuardChecks
	}
	return &Injector{
		doc:       doc,
		det:       det,
		renderer:  renderer,
		opts:      opts,
		logger:    logger,
		processed: make(map[weak.Pointer[html.Node]]struct{}),
	}
}

// Start replaces every qualifying slot in the document, then keeps replacing
// slots as they appear. A running loop is stopped first. Inactive actions
// are ignored; with none left the injector stays inactive and Start returns
// a stub handle. Start must not be called from inside a document
// transaction.
func (i *Injector) Start(actions []models.LaborAction) Handle {
	i.Stop()
	active := models.ActiveOnly(actions)
	if len(active) == 0 {
		i.mu.Lock()
		i.actions = nil
		i.idx = 0
		i.mu.Unlock()
		i.logger.Debug("no active labor actions, injector not started")
		return stubHandle{}
	}

	r := &run{inj: i, quit: make(chan struct{})}
	i.mu.Lock()
	i.actions = active
	i.idx = 0
	i.current = r
	i.mu.Unlock()

	var replaced int
	_ = i.doc.Update(func(tx *dom.Tx) error {
		if r.stopped.Load() {
			return nil
		}
		replaced = i.ProcessAdElements(tx, i.det.Scan(tx, tx.Root()))
		return nil
	})
	metrics.Scans.WithLabelValues("initial").Inc()
	i.logger.Info("strike injector started", "actions", len(active), "replaced", replaced)

	observer := i.det.ObserveNewAds(i.doc, func(tx *dom.Tx, ads []detector.Candidate, trigger detector.Trigger) {
		if r.stopped.Load() {
			return
		}
		if n := i.ProcessAdElements(tx, ads); n > 0 {
			i.logger.Debug("replaced late ads", "trigger", string(trigger), "replaced", n)
			if i.opts.OnReplaced != nil {
				i.opts.OnReplaced(n)
			}
		}
	})
	r.attach(observer)

	if i.opts.GuardChecks > 0 {
		r.wg.Add(1)
		go r.guardLoop()
	}
	return r
}

// Stop tears down the running loop, if any, and waits for any transaction in
// flight to finish. Replaced slots keep their cards. Safe to call repeatedly;
// must not be called from inside a document transaction.
func (i *Injector) Stop() {
	i.mu.Lock()
	r := i.current
	i.mu.Unlock()
	if r != nil {
		r.Stop()
	}
}

// Active reports whether a detection loop is running.
func (i *Injector) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current != nil
}

// NextAction returns the next action in round-robin order.
func (i *Injector) NextAction() (models.LaborAction, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.actions) == 0 {
		return models.LaborAction{}, false
	}
	a := i.actions[i.idx%len(i.actions)]
	i.idx++
	return a, true
}

// Replaced returns how many slots have been replaced since the last Reset.
func (i *Injector) Replaced() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.replaced
}

// Reset forgets which slots were replaced. Used on navigation, where the
// page content is replaced wholesale.
func (i *Injector) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	clear(i.processed)
	i.guarded = nil
	i.replaced = 0
}

func (i *Injector) isProcessed(el *html.Node) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.processed[weak.Make(el)]
	return ok
}

func (i *Injector) markProcessed(el, card *html.Node, rect dom.Size) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.processed[weak.Make(el)] = struct{}{}
	i.replaced++
	i.guarded = append(i.guarded, &guardEntry{el: el, card: card, rect: rect})
}

// ProcessAdElements replaces each candidate in order and returns how many
// replacements succeeded.
func (i *Injector) ProcessAdElements(tx *dom.Tx, candidates []detector.Candidate) int {
	n := 0
	for _, c := range candidates {
		if i.ReplaceAdWithCard(tx, c.Element, c.Size) {
			n++
		}
	}
	return n
}

// ReplaceAdWithCard swaps el's content for a card showing the next action.
// An empty size is derived from el's current dimensions. It reports false,
// without touching el, when el was already replaced, is structural or
// detached, is too small, or sits inside an overlay.
func (i *Injector) ReplaceAdWithCard(tx *dom.Tx, el *html.Node, size detector.Size) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Warn("ad replacement failed", "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	if el == nil || el.Type != html.ElementNode {
		return false
	}
	if i.isProcessed(el) || detector.IsMarked(el) {
		return false
	}
	if detector.IsStructural(el) || !tx.IsConnected(el) {
		return false
	}
	rect := detector.MeasureElement(tx, el)
	opts := i.det.Options()
	if rect.Width < opts.MinWidth || rect.Height < opts.MinHeight {
		return false
	}
	if i.det.HasOverlayAncestor(tx, el) {
		return false
	}

	action, found := i.NextAction()
	if !found {
		return false
	}
	if size == "" {
		size = detector.GetAdSize(rect.Width, rect.Height)
	}
	rect.Width = min(rect.Width, i.opts.MaxWidth)
	rect.Height = min(rect.Height, i.opts.MaxHeight)

	card, err := i.renderer.RenderStrikeCard(&action, size, rect)
	if err != nil {
		i.logger.Warn("card render failed", "action_id", action.ID, "error", err)
		return false
	}

	tx.ClearChildren(el)
	tx.AppendChild(el, card)
	lockContainer(tx, el, rect)
	i.markProcessed(el, card, rect)
	ensureGuardStylesheet(tx)

	metrics.AdsReplaced.WithLabelValues(string(size)).Inc()
	i.logger.Debug("replaced ad slot",
		"action_id", action.ID,
		"size", string(size),
		"width", rect.Width,
		"height", rect.Height,
	)
	return true
}

// lockContainer pins the container open at the card's size and marks it.
func lockContainer(tx *dom.Tx, el *html.Node, rect dom.Size) {
	h := px(rect.Height)
	tx.SetStyleProperty(el, "--opl-h", h, false)
	tx.SetStyleProperty(el, "overflow", "hidden", true)
	tx.SetStyleProperty(el, "display", "block", true)
	tx.SetStyleProperty(el, "visibility", "visible", true)
	tx.SetStyleProperty(el, "max-width", px(rect.Width), true)
	tx.SetStyleProperty(el, "min-height", h, true)
	tx.SetAttr(el, detector.InjectedAttr, "true")
	tx.SetAttr(el, detector.ContainerAttr, "true")
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

// run is one Start..Stop lifetime.
type run struct {
	inj *Injector

	stopped atomic.Bool
	once    sync.Once
	quit    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	observer detector.Handle
}

func (r *run) attach(h detector.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped.Load() {
		h.Disconnect()
		return
	}
	r.observer = h
}

// Stop disconnects this run's loop. Later runs are unaffected.
func (r *run) Stop() {
	r.once.Do(func() {
		r.stopped.Store(true)

		r.inj.mu.Lock()
		if r.inj.current == r {
			r.inj.current = nil
		}
		r.inj.mu.Unlock()

		r.mu.Lock()
		obs := r.observer
		r.mu.Unlock()
		if obs != nil {
			obs.Disconnect()
		}
		close(r.quit)
		r.wg.Wait()
		r.inj.doc.Sync()
		r.inj.logger.Debug("strike injector stopped")
	})
}
