package page

import (
	"github.com/zombor/fx-annotator/internal/convert"
)

// Node is an opaque, comparable reference to an element in a Document.
type Node any

// Document is the read side of a page. Implementations exist for parsed HTML
// and for test doubles.
type Document interface {
	// Root returns the top element.
	Root() Node
	// QueryAll returns the elements matching a CSS selector in document order.
	// An unsupported selector yields no elements.
	QueryAll(selector string) []Node
	// TextContent returns the rendered text of n and its descendants.
	// Annotation badges and non-rendered elements such as script and style
	// are excluded.
	TextContent(n Node) string
	// Children returns the element children of n.
	Children(n Node) []Node
	// Parent returns the parent element of n, or nil at the root.
	Parent(n Node) Node
	// NextSibling returns the next element sibling of n, or nil.
	NextSibling(n Node) Node
	// Tag returns the lower-case tag name of n.
	Tag(n Node) string
	// IsAnnotation reports whether n is a badge inserted by a Sink.
	IsAnnotation(n Node) bool
}

// Handle identifies an inserted annotation.
type Handle string

// Sink renders annotations into the page. The Scanner is its only caller.
type Sink interface {
	Annotate(anchor Node, result *convert.Result) (Handle, error)
	Remove(h Handle) error
	RemoveAll() error
}

// contains reports whether b is a strict descendant of a.
func contains(doc Document, a, b Node) bool {
	if a == nil || b == nil {
		return false
	}
	for p := doc.Parent(b); p != nil; p = doc.Parent(p) {
		if p == a {
			return true
		}
	}
	return false
}

// insideAnnotation reports whether n is a badge or sits inside one.
func insideAnnotation(doc Document, n Node) bool {
	for p := n; p != nil; p = doc.Parent(p) {
		if doc.IsAnnotation(p) {
			return true
		}
	}
	return false
}
