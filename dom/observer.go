package dom

import "golang.org/x/net/html"

// MutationType distinguishes child-list changes from attribute changes.
type MutationType int

const (
	MutationChildList MutationType = iota
	MutationAttributes
)

func (t MutationType) String() string {
	if t == MutationAttributes {
		return "attributes"
	}
	return "childList"
}

// Mutation describes one change made inside Update.
type Mutation struct {
	Type          MutationType
	Target        *html.Node
	AttributeName string
}

// ObserveOptions mirrors the options of a DOM mutation observer.
type ObserveOptions struct {
	// Target is the observed node. nil means <body>, or <html> when the
	// document has no body.
	Target *html.Node

	Subtree         bool
	ChildList       bool
	Attributes      bool
	AttributeFilter []string
}

type observer struct {
	opts ObserveOptions
	fn   func([]Mutation)
}

type delivery struct {
	fn      func([]Mutation)
	records []Mutation
}

// Observe registers fn for mutation batches matching opts. It returns an
// idempotent unobserve function and false when the document cannot be observed.
// Like Sync, it must not be called from inside a transaction.
func (d *Document) Observe(opts ObserveOptions, fn func([]Mutation)) (unobserve func(), ok bool) {
	if !d.observable || fn == nil {
		return func() {}, false
	}
	if opts.Target == nil {
		_ = d.View(func(tx *Tx) error {
			opts.Target = tx.Body()
			if opts.Target == nil {
				opts.Target = tx.DocumentElement()
			}
			return nil
		})
	}
	if opts.Target == nil {
		return func() {}, false
	}

	d.obsMu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = &observer{opts: opts, fn: fn}
	d.obsMu.Unlock()

	return func() {
		d.obsMu.Lock()
		delete(d.observers, id)
		d.obsMu.Unlock()
	}, true
}

// route filters records per observer. It runs with d.mu held so node
// ancestry is stable.
func (d *Document) route(records []Mutation) []delivery {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	var out []delivery
	for _, o := range d.observers {
		var matched []Mutation
		for _, m := range records {
			if o.wants(m) {
				matched = append(matched, m)
			}
		}
		if len(matched) > 0 {
			out = append(out, delivery{fn: o.fn, records: matched})
		}
	}
	return out
}

func (o *observer) wants(m Mutation) bool {
	if o.opts.Subtree {
		if !Contains(o.opts.Target, m.Target) {
			return false
		}
	} else if m.Target != o.opts.Target {
		return false
	}
	switch m.Type {
	case MutationChildList:
		return o.opts.ChildList
	case MutationAttributes:
		if !o.opts.Attributes {
			return false
		}
		if len(o.opts.AttributeFilter) == 0 {
			return true
		}
		for _, a := range o.opts.AttributeFilter {
			if a == m.AttributeName {
				return true
			}
		}
	}
	return false
}
