package htmldoc

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"

	"github.com/zombor/fx-annotator/internal/page"
)

// BadgeAttr marks nodes inserted by BadgeSink.
const BadgeAttr = "data-fx-badge"

// ErrNoBody is returned when a fragment is appended to a document without a
// body element.
var ErrNoBody = errors.New("document has no body")

var hiddenTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Head:     true,
	atom.Template: true,
}

// Document is a parsed HTML page. It implements page.Document over
// *html.Node values.
type Document struct {
	node *html.Node
	sel  *goquery.Document
}

var _ page.Document = (*Document)(nil)

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	n, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return &Document{node: n, sel: goquery.NewDocumentFromNode(n)}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the <html> element.
func (d *Document) Root() page.Node {
	for c := d.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// QueryAll returns the elements matching selector. Invalid selectors match
// nothing.
func (d *Document) QueryAll(selector string) []page.Node {
	found := d.sel.Find(selector)
	out := make([]page.Node, 0, len(found.Nodes))
	for _, n := range found.Nodes {
		out = append(out, n)
	}
	return out
}

// TextContent returns the NFC-normalized rendered text under n.
func (d *Document) TextContent(n page.Node) string {
	h, ok := n.(*html.Node)
	if !ok || h == nil {
		return ""
	}
	var b strings.Builder
	collectText(h, &b)
	return norm.NFC.String(b.String())
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if hiddenTags[n.DataAtom] || isBadge(n) {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// Children returns the element children of n.
func (d *Document) Children(n page.Node) []page.Node {
	h, ok := n.(*html.Node)
	if !ok || h == nil {
		return nil
	}
	var out []page.Node
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// Parent returns the parent element of n, or nil.
func (d *Document) Parent(n page.Node) page.Node {
	h, ok := n.(*html.Node)
	if !ok || h == nil || h.Parent == nil || h.Parent.Type != html.ElementNode {
		return nil
	}
	return h.Parent
}

// NextSibling returns the next element sibling of n, or nil.
func (d *Document) NextSibling(n page.Node) page.Node {
	h, ok := n.(*html.Node)
	if !ok || h == nil {
		return nil
	}
	for s := h.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

// Tag returns the element name of n.
func (d *Document) Tag(n page.Node) string {
	h, ok := n.(*html.Node)
	if !ok || h == nil || h.Type != html.ElementNode {
		return ""
	}
	return h.Data
}

// IsAnnotation reports whether n is a badge.
func (d *Document) IsAnnotation(n page.Node) bool {
	h, ok := n.(*html.Node)
	return ok && h != nil && isBadge(h)
}

// AppendFragment parses markup in the context of <body> and appends it
// there, as a page script inserting new content would.
func (d *Document) AppendFragment(markup string) error {
	bodies := d.sel.Find("body").Nodes
	if len(bodies) == 0 {
		return ErrNoBody
	}
	body := bodies[0]

	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return fmt.Errorf("parsing fragment: %w", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return nil
}

// Render writes the document, badges included, to w.
func (d *Document) Render(w io.Writer) error {
	if err := html.Render(w, d.node); err != nil {
		return fmt.Errorf("rendering html: %w", err)
	}
	return nil
}

// String renders the document to a string.
func (d *Document) String() string {
	var b strings.Builder
	if err := d.Render(&b); err != nil {
		return ""
	}
	return b.String()
}

func isBadge(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == BadgeAttr {
			return true
		}
	}
	return false
}
