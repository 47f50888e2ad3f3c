package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrReadOnly is returned when a write helper is used inside View.
var ErrReadOnly = errors.New("dom: write in read-only transaction")

// Document is a parsed page plus its layout. All access goes through View
// and Update, which serialize on one mutex the way a page's UI thread
// serializes script execution.
type Document struct {
	mu     sync.Mutex
	doc    *goquery.Document
	layout Layout

	observable bool
	obsMu      sync.Mutex
	observers  map[uint64]*observer
	nextObs    uint64
}

// Option configures a Document.
type Option func(*Document)

// WithLayout sets the layout used for geometry questions.
func WithLayout(l Layout) Option {
	return func(d *Document) { d.layout = l }
}

// WithGeometry uses a browser snapshot for layout.
func WithGeometry(g *Geometry) Option {
	return func(d *Document) {
		if g != nil {
			d.layout = NewSnapshotLayout(g)
		}
	}
}

// WithViewport sets the viewport of the default static layout.
func WithViewport(vp Size) Option {
	return func(d *Document) { d.layout = NewStaticLayout(vp) }
}

// WithoutObservation builds a document that cannot be observed. Observe
// reports ok=false for it.
func WithoutObservation() Option {
	return func(d *Document) { d.observable = false }
}

// NewDocument parses HTML from r.
func NewDocument(r io.Reader, opts ...Option) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	d := &Document{
		doc:        gq,
		observable: true,
		observers:  make(map[uint64]*observer),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.layout == nil {
		d.layout = NewStaticLayout(DefaultViewport)
	}
	return d, nil
}

// NewDocumentFromString parses HTML from a string.
func NewDocumentFromString(s string, opts ...Option) (*Document, error) {
	return NewDocument(strings.NewReader(s), opts...)
}

// View runs fn with read access.
func (d *Document) View(fn func(tx *Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(&Tx{d: d, readOnly: true})
}

// Update runs fn with write access. Mutations recorded by fn are delivered
// to observers after the lock is released, on the calling goroutine.
func (d *Document) Update(fn func(tx *Tx) error) (err error) {
	var batches []delivery
	func() {
		d.mu.Lock()
		tx := &Tx{d: d}
		defer func() {
			if len(tx.records) > 0 {
				batches = d.route(tx.records)
			}
			d.mu.Unlock()
		}()
		err = fn(tx)
	}()
	for _, b := range batches {
		b.fn(b.records)
	}
	return err
}

// Sync blocks until any in-flight transaction has finished. It must not be
// called from inside View or Update.
func (d *Document) Sync() {
	d.mu.Lock()
	d.mu.Unlock() //nolint:staticcheck // barrier
}

// HTML renders the whole document.
func (d *Document) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.doc.Get(0)); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// Tx is the handle passed to View and Update.
type Tx struct {
	d        *Document
	readOnly bool
	records  []Mutation
}

func (tx *Tx) mustWrite() {
	if tx.readOnly {
		panic(ErrReadOnly)
	}
}

func (tx *Tx) record(m Mutation) {
	tx.records = append(tx.records, m)
	if inv, ok := tx.d.layout.(invalidator); ok {
		inv.Invalidate()
	}
}

// Root returns the document node.
func (tx *Tx) Root() *html.Node { return tx.d.doc.Get(0) }

// DocumentElement returns the <html> element.
func (tx *Tx) DocumentElement() *html.Node {
	for c := tx.Root().FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			return c
		}
	}
	return nil
}

// Body returns the <body> element, or nil.
func (tx *Tx) Body() *html.Node { return tx.childOfRoot(atom.Body) }

// Head returns the <head> element, or nil.
func (tx *Tx) Head() *html.Node { return tx.childOfRoot(atom.Head) }

func (tx *Tx) childOfRoot(a atom.Atom) *html.Node {
	root := tx.DocumentElement()
	if root == nil {
		return nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}

// Selection wraps the whole document in a goquery selection.
func (tx *Tx) Selection() *goquery.Selection { return tx.d.doc.Selection }

// FindMatcher returns descendants of root matching m, in document order.
// root itself is never included.
func (tx *Tx) FindMatcher(root *html.Node, m goquery.Matcher) []*html.Node {
	if root == nil || m == nil {
		return nil
	}
	return goquery.NewDocumentFromNode(root).FindMatcher(m).Nodes
}

// IsConnected reports whether n is attached to this document.
func (tx *Tx) IsConnected(n *html.Node) bool {
	return n != nil && Contains(tx.Root(), n)
}

func (tx *Tx) BoundingRect(n *html.Node) Rect   { return tx.d.layout.BoundingRect(n) }
func (tx *Tx) OffsetSize(n *html.Node) Size     { return tx.d.layout.OffsetSize(n) }
func (tx *Tx) ComputedStyle(n *html.Node) Style { return tx.d.layout.ComputedStyle(n) }
func (tx *Tx) Viewport() Size                   { return tx.d.layout.Viewport() }

// SetAttr sets or replaces an attribute.
func (tx *Tx) SetAttr(n *html.Node, key, val string) {
	tx.mustWrite()
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			if n.Attr[i].Val == val {
				return
			}
			n.Attr[i].Val = val
			tx.record(Mutation{Type: MutationAttributes, Target: n, AttributeName: key})
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	tx.record(Mutation{Type: MutationAttributes, Target: n, AttributeName: key})
}

// RemoveAttr deletes an attribute if present.
func (tx *Tx) RemoveAttr(n *html.Node, key string) {
	tx.mustWrite()
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			tx.record(Mutation{Type: MutationAttributes, Target: n, AttributeName: key})
			return
		}
	}
}

// StyleProperty returns an inline style property value.
func (tx *Tx) StyleProperty(n *html.Node, prop string) string {
	v, _ := styleValue(ParseStyle(attrOr(n, "style")), prop)
	return v
}

// SetStyleProperty sets one inline style declaration, keeping the others.
func (tx *Tx) SetStyleProperty(n *html.Node, prop, value string, important bool) {
	decls := setDeclaration(ParseStyle(attrOr(n, "style")), strings.ToLower(prop), value, important)
	tx.SetAttr(n, "style", FormatStyle(decls))
}

// RemoveStyleProperty drops one inline style declaration.
func (tx *Tx) RemoveStyleProperty(n *html.Node, prop string) {
	decls := ParseStyle(attrOr(n, "style"))
	if _, ok := styleValue(decls, prop); !ok {
		return
	}
	tx.SetAttr(n, "style", FormatStyle(removeDeclaration(decls, prop)))
}

// ClearChildren removes all children of n.
func (tx *Tx) ClearChildren(n *html.Node) {
	tx.mustWrite()
	if n.FirstChild == nil {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	tx.record(Mutation{Type: MutationChildList, Target: n})
}

// AppendChild appends a detached node to parent.
func (tx *Tx) AppendChild(parent, child *html.Node) {
	tx.mustWrite()
	if child.Parent != nil {
		tx.RemoveNode(child)
	}
	parent.AppendChild(child)
	tx.record(Mutation{Type: MutationChildList, Target: parent})
}

// InsertBefore inserts child before ref under parent. A nil ref appends.
func (tx *Tx) InsertBefore(parent, child, ref *html.Node) {
	tx.mustWrite()
	if child.Parent != nil {
		tx.RemoveNode(child)
	}
	parent.InsertBefore(child, ref)
	tx.record(Mutation{Type: MutationChildList, Target: parent})
}

// RemoveNode detaches n from its parent.
func (tx *Tx) RemoveNode(n *html.Node) {
	tx.mustWrite()
	parent := n.Parent
	if parent == nil {
		return
	}
	parent.RemoveChild(n)
	tx.record(Mutation{Type: MutationChildList, Target: parent})
}

// ParseFragment parses markup in the context of the given element. The
// returned nodes are detached.
func (tx *Tx) ParseFragment(context *html.Node, markup string) ([]*html.Node, error) {
	if context == nil || context.Type != html.ElementNode {
		context = NewElement("div")
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	return nodes, nil
}

// ReplaceContent swaps the page for a freshly parsed one, the way a
// single-page-app route change does. The document node stays the same, so
// observers and replaced-slot bookkeeping keyed on the document survive. A
// nil layout keeps the current one.
func (tx *Tx) ReplaceContent(markup string, layout Layout) error {
	tx.mustWrite()
	next, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	if layout != nil {
		tx.d.layout = layout
	}
	root := tx.Root()
	for c := root.FirstChild; c != nil; {
		n := c.NextSibling
		root.RemoveChild(c)
		c = n
	}
	for c := next.FirstChild; c != nil; {
		n := c.NextSibling
		next.RemoveChild(c)
		root.AppendChild(c)
		c = n
	}
	tx.record(Mutation{Type: MutationChildList, Target: root})
	return nil
}
