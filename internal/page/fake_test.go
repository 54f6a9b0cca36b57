package page

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zombor/fx-annotator/internal/convert"
)

// fakeNode is a minimal element tree for exercising the Scanner.
type fakeNode struct {
	tag      string
	class    string
	text     string
	badge    bool
	parent   *fakeNode
	children []*fakeNode
}

func el(tag, class string, children ...*fakeNode) *fakeNode {
	n := &fakeNode{tag: tag, class: class}
	for _, ch := range children {
		ch.parent = n
		n.children = append(n.children, ch)
	}
	return n
}

func txt(tag, class, text string) *fakeNode {
	return &fakeNode{tag: tag, class: class, text: text}
}

type fakeDoc struct {
	root *fakeNode
}

func (d *fakeDoc) Root() Node { return d.root }

func (d *fakeDoc) QueryAll(selector string) []Node {
	var out []Node
	var walk func(n *fakeNode)
	walk = func(n *fakeNode) {
		if strings.HasPrefix(selector, ".") && n.class == strings.TrimPrefix(selector, ".") {
			out = append(out, n)
		}
		for _, ch := range n.children {
			walk(ch)
		}
	}
	walk(d.root)
	return out
}

func (d *fakeDoc) TextContent(n Node) string {
	f := n.(*fakeNode)
	if f.badge || skippedTags[f.tag] {
		return ""
	}
	var b strings.Builder
	b.WriteString(f.text)
	for _, ch := range f.children {
		b.WriteString(d.TextContent(ch))
	}
	return b.String()
}

func (d *fakeDoc) Children(n Node) []Node {
	f := n.(*fakeNode)
	out := make([]Node, 0, len(f.children))
	for _, ch := range f.children {
		out = append(out, ch)
	}
	return out
}

func (d *fakeDoc) Parent(n Node) Node {
	f := n.(*fakeNode)
	if f.parent == nil {
		return nil
	}
	return f.parent
}

func (d *fakeDoc) NextSibling(n Node) Node {
	f := n.(*fakeNode)
	if f.parent == nil {
		return nil
	}
	sibs := f.parent.children
	for i, s := range sibs {
		if s == f && i+1 < len(sibs) {
			return sibs[i+1]
		}
	}
	return nil
}

func (d *fakeDoc) Tag(n Node) string { return n.(*fakeNode).tag }

func (d *fakeDoc) IsAnnotation(n Node) bool { return n.(*fakeNode).badge }

// fakeSink inserts badge nodes after anchors like a real sink would.
type fakeSink struct {
	badges  map[Handle]*fakeNode
	anchors []Node
	results []*convert.Result
	next    int
	failing bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{badges: make(map[Handle]*fakeNode)}
}

func (s *fakeSink) Annotate(anchor Node, r *convert.Result) (Handle, error) {
	if s.failing {
		return "", errors.New("insert failed")
	}
	a := anchor.(*fakeNode)
	badge := &fakeNode{tag: "span", text: "≈" + r.Formatted, badge: true, parent: a.parent}
	if a.parent != nil {
		sibs := a.parent.children
		for i, sib := range sibs {
			if sib == a {
				a.parent.children = append(sibs[:i+1], append([]*fakeNode{badge}, sibs[i+1:]...)...)
				break
			}
		}
	}
	s.next++
	h := Handle(fmt.Sprintf("h%d", s.next))
	s.badges[h] = badge
	s.anchors = append(s.anchors, anchor)
	s.results = append(s.results, r)
	return h, nil
}

func (s *fakeSink) Remove(h Handle) error {
	b, ok := s.badges[h]
	if !ok {
		return errors.New("unknown handle")
	}
	if p := b.parent; p != nil {
		for i, ch := range p.children {
			if ch == b {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
	}
	delete(s.badges, h)
	return nil
}

func (s *fakeSink) RemoveAll() error {
	for h := range s.badges {
		if err := s.Remove(h); err != nil {
			return err
		}
	}
	return nil
}
