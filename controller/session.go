package controller

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/google/uuid"

	"github.com/use-agent/picketline/dom"
	"github.com/use-agent/picketline/injector"
	"github.com/use-agent/picketline/metrics"
	"github.com/use-agent/picketline/models"
	"github.com/use-agent/picketline/webhook"
)

// PageInput is the page a session opens or navigates to.
type PageInput struct {
	URL      string
	HTML     string
	Geometry *dom.Geometry
}

// SessionInput opens a session.
type SessionInput struct {
	PageInput

	Mode      string
	InjectAds *bool

	// WebhookURL receives a session.closed event.
	WebhookURL string
}

// Session is a long-lived page: a document with a running injector that
// keeps replacing slots as scripted mutations add them.
type Session struct {
	id         string
	ctrl       *Controller
	doc        *dom.Document
	inj        *injector.Injector
	mode       string
	injectAds  bool
	webhookURL string
	createdAt  time.Time

	// op serializes page operations.
	op sync.Mutex

	mu           sync.Mutex
	url          string
	check        *CheckResult
	lastActive   time.Time
	stats        models.SessionStats
	prevReplaced int
	closed       bool

	// logoReq wakes logoLoop for cards added between page operations.
	logoReq  chan struct{}
	logoQuit chan struct{}
	logoDone chan struct{}
}

// OpenSession parses a page, applies the display mode and starts the
// injector on it.
func (c *Controller) OpenSession(ctx context.Context, in SessionInput) (*Session, error) {
	if in.URL == "" {
		return nil, models.NewPicketError(models.ErrCodeInvalidInput, "url is required", nil)
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, models.NewPicketError(models.ErrCodeUpstreamUnavailable, "controller is shutting down", nil)
	case len(c.sessions) >= c.opts.MaxSessions:
		c.mu.Unlock()
		return nil, models.NewPicketError(models.ErrCodeRateLimited,
			fmt.Sprintf("session limit of %d reached", c.opts.MaxSessions), nil)
	}
	c.mu.Unlock()

	doc, err := dom.NewDocumentFromString(in.HTML, c.layoutOption(in.Geometry))
	if err != nil {
		return nil, models.NewPicketError(models.ErrCodeParse, "failed to parse page", err)
	}

	now := time.Now()
	s := &Session{
		id:         uuid.NewString(),
		ctrl:       c,
		doc:        doc,
		mode:       c.mode(in.Mode),
		injectAds:  c.InjectAds(in.InjectAds),
		webhookURL: in.WebhookURL,
		createdAt:  now,
		url:        in.URL,
		lastActive: now,
		logoReq:    make(chan struct{}, 1),
		logoQuit:   make(chan struct{}),
		logoDone:   make(chan struct{}),
	}
	injOpts := c.opts.Injector
	injOpts.OnReplaced = func(int) { s.requestLogoPatch() }
	s.inj = injector.New(doc, c.det, c.renderer, injOpts, c.logger)

	s.op.Lock()
	s.load(ctx, in.URL)
	s.op.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.inj.Stop()
		return nil, models.NewPicketError(models.ErrCodeUpstreamUnavailable, "controller is shutting down", nil)
	}
	c.sessions[s.id] = s
	n := len(c.sessions)
	c.mu.Unlock()
	go s.logoLoop()

	metrics.ActiveSessions.Inc()
	c.janitorOnce.Do(c.startJanitor)
	c.logger.Info("session opened", "session_id", s.id, "url", in.URL, "mode", s.mode, "sessions", n)
	return s, nil
}

// Session returns a live session and marks it active.
func (c *Controller) Session(id string) (*Session, error) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return nil, models.NewPicketError(models.ErrCodeSessionNotFound, "session not found: "+id, nil)
	}
	s.touch()
	return s, nil
}

// Sessions lists the live sessions.
func (c *Controller) Sessions() []models.SessionInfo {
	c.mu.Lock()
	list := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.Unlock()

	out := make([]models.SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	return out
}

// SessionCount returns the number of live sessions.
func (c *Controller) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// CloseSession stops a session and sends its session.closed webhook.
func (c *Controller) CloseSession(id string) (models.SessionInfo, error) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()
	if !ok {
		return models.SessionInfo{}, models.NewPicketError(models.ErrCodeSessionNotFound, "session not found: "+id, nil)
	}
	return s.close("closed"), nil
}

// Close ends every session and stops the idle janitor. Sessions cannot be
// opened afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.quit)
	list := make([]*Session, 0, len(c.sessions))
	for id, s := range c.sessions {
		list = append(list, s)
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	for _, s := range list {
		s.close("shutdown")
	}
	c.wg.Wait()
}

func (c *Controller) startJanitor() {
	interval := c.opts.SessionTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.quit:
				return
			case <-ticker.C:
				c.expireIdle(time.Now())
			}
		}
	}()
}

func (c *Controller) expireIdle(now time.Time) int {
	c.mu.Lock()
	var idle []*Session
	for id, s := range c.sessions {
		if now.Sub(s.idleSince()) > c.opts.SessionTTL {
			idle = append(idle, s)
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()

	for _, s := range idle {
		s.close("idle")
	}
	return len(idle)
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// load applies the display mode to the current content and restarts the
// injector. Callers hold s.op.
func (s *Session) load(ctx context.Context, rawURL string) {
	c := s.ctrl
	actions := c.src.Actions(ctx)
	chk := c.check(rawURL, s.mode, actions)

	blocked := chk.Matched() && chk.Mode == models.ModeBlock
	if chk.Matched() && !blocked {
		c.insertBanner(s.doc, chk.Action)
	}
	if s.injectAds && !blocked {
		s.inj.Start(actions)
	}
	patched := c.patchLogos(s.doc)

	s.mu.Lock()
	s.url = rawURL
	s.check = chk
	s.stats.LogosPatched += patched
	s.mu.Unlock()
}

func (s *Session) requestLogoPatch() {
	select {
	case s.logoReq <- struct{}{}:
	default:
	}
}

// logoLoop fills logo slots in cards the detection loop injects on its own,
// so they do not wait for the next Mutate or Navigate.
func (s *Session) logoLoop() {
	defer close(s.logoDone)
	for {
		select {
		case <-s.logoQuit:
			return
		case <-s.logoReq:
			if n := s.ctrl.patchLogos(s.doc); n > 0 {
				s.mu.Lock()
				s.stats.LogosPatched += n
				s.mu.Unlock()
			}
		}
	}
}

// Navigate replaces the page content in place, as a single-page-app route
// change would, and re-runs matching and injection for the new URL.
func (s *Session) Navigate(ctx context.Context, in PageInput) error {
	if in.URL == "" {
		return models.NewPicketError(models.ErrCodeInvalidInput, "url is required", nil)
	}
	s.op.Lock()
	defer s.op.Unlock()
	if s.isClosed() {
		return models.NewPicketError(models.ErrCodeSessionNotFound, "session closed: "+s.id, nil)
	}

	s.inj.Stop()
	replaced := s.inj.Replaced()
	s.inj.Reset()

	var layout dom.Layout
	if in.Geometry != nil {
		layout = dom.NewSnapshotLayout(in.Geometry)
	}
	err := s.doc.Update(func(tx *dom.Tx) error {
		return tx.ReplaceContent(in.HTML, layout)
	})
	if err != nil {
		return models.NewPicketError(models.ErrCodeParse, "failed to parse page", err)
	}

	s.mu.Lock()
	s.prevReplaced += replaced
	s.stats.Navigations++
	s.lastActive = time.Now()
	s.mu.Unlock()

	s.load(ctx, in.URL)
	s.ctrl.logger.Info("session navigated", "session_id", s.id, "url", in.URL)
	return nil
}

type compiledMutation struct {
	models.Mutation
	sel cascadia.Selector
}

// Mutate applies scripted DOM changes in one transaction, then waits settle
// for the detection loop to react.
func (s *Session) Mutate(ctx context.Context, muts []models.Mutation, settle time.Duration) error {
	compiled := make([]compiledMutation, 0, len(muts))
	for _, m := range muts {
		sel, err := cascadia.Compile(m.Selector)
		if err != nil {
			return models.NewPicketError(models.ErrCodeInvalidInput, "invalid selector: "+m.Selector, err)
		}
		switch m.Op {
		case models.MutationAppend, models.MutationReplace, models.MutationSetAttr, models.MutationRemove:
		default:
			return models.NewPicketError(models.ErrCodeInvalidInput, "unknown mutation op: "+m.Op, nil)
		}
		compiled = append(compiled, compiledMutation{Mutation: m, sel: sel})
	}

	s.op.Lock()
	defer s.op.Unlock()
	if s.isClosed() {
		return models.NewPicketError(models.ErrCodeSessionNotFound, "session closed: "+s.id, nil)
	}

	err := s.doc.Update(func(tx *dom.Tx) error {
		for _, m := range compiled {
			if err := applyMutation(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.NewPicketError(models.ErrCodeInvalidInput, "mutation failed", err)
	}

	if settle > 0 {
		t := time.NewTimer(settle)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	s.doc.Sync()
	patched := s.ctrl.patchLogos(s.doc)

	s.mu.Lock()
	s.stats.Mutations += len(compiled)
	s.stats.LogosPatched += patched
	s.lastActive = time.Now()
	s.mu.Unlock()
	return nil
}

func applyMutation(tx *dom.Tx, m compiledMutation) error {
	for _, n := range tx.FindMatcher(tx.Root(), m.sel) {
		if !tx.IsConnected(n) {
			continue
		}
		switch m.Op {
		case models.MutationAppend:
			frags, err := tx.ParseFragment(n, m.HTML)
			if err != nil {
				return err
			}
			for _, f := range frags {
				tx.AppendChild(n, f)
			}
		case models.MutationReplace:
			parent := n.Parent
			if parent == nil {
				continue
			}
			frags, err := tx.ParseFragment(parent, m.HTML)
			if err != nil {
				return err
			}
			for _, f := range frags {
				tx.InsertBefore(parent, f, n)
			}
			tx.RemoveNode(n)
		case models.MutationSetAttr:
			for k, v := range m.Attrs {
				tx.SetAttr(n, k, v)
			}
		case models.MutationRemove:
			tx.RemoveNode(n)
		}
	}
	return nil
}

var nodeIDPattern = regexp.MustCompile(`\s` + regexp.QuoteMeta(dom.NodeIDAttr) + `="[^"]*"`)

// HTML renders the current page without geometry node ids. The live
// document keeps them so the snapshot layout still resolves.
func (s *Session) HTML() (string, error) {
	out, err := s.doc.HTML()
	if err != nil {
		return "", models.NewPicketError(models.ErrCodeInternal, "failed to render page", err)
	}
	return nodeIDPattern.ReplaceAllString(out, ""), nil
}

// Info returns a snapshot of the session state.
func (s *Session) Info() models.SessionInfo {
	active := s.inj.Active()
	replaced := s.inj.Replaced()

	s.mu.Lock()
	defer s.mu.Unlock()
	info := models.SessionInfo{
		ID:             s.id,
		URL:            s.url,
		Mode:           s.mode,
		InjectorActive: active && !s.closed,
		CreatedAt:      s.createdAt,
		LastActive:     s.lastActive,
		Stats:          s.stats,
	}
	info.Stats.AdsReplaced = s.prevReplaced + replaced
	if s.check != nil {
		info.Matched = s.check.Matched()
		info.Action = s.check.Action
		info.BlockURL = s.check.BlockURL
	}
	return info
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) close(reason string) models.SessionInfo {
	s.op.Lock()
	s.inj.Stop()
	s.op.Unlock()

	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	info := s.Info()
	if already {
		return info
	}
	close(s.logoQuit)
	<-s.logoDone

	metrics.ActiveSessions.Dec()
	c := s.ctrl
	c.logger.Info("session closed",
		"session_id", s.id,
		"reason", reason,
		"ads_replaced", info.Stats.AdsReplaced,
		"navigations", info.Stats.Navigations,
	)
	if s.webhookURL != "" && c.hooks != nil {
		c.hooks.DeliverAsync(s.webhookURL, &webhook.Event{
			Type:      webhook.EventSessionClosed,
			SessionID: s.id,
			Timestamp: time.Now().Unix(),
			Data: map[string]any{
				"reason":  reason,
				"session": info,
			},
		})
	}
	return info
}
