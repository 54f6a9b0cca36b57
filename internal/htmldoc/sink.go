package htmldoc

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/zombor/fx-annotator/internal/convert"
	"github.com/zombor/fx-annotator/internal/page"
)

// BadgeClass is the class carried by every inserted badge.
const BadgeClass = "fx-annotator-badge"

var (
	// ErrDetachedAnchor is returned when the anchor has no parent to insert into.
	ErrDetachedAnchor = errors.New("anchor is not attached to the document")
	// ErrUnknownHandle is returned by Remove for handles it did not issue.
	ErrUnknownHandle = errors.New("unknown annotation handle")
)

// BadgeOptions controls badge content.
type BadgeOptions struct {
	// Display is recorded on the badge as data-fx-display.
	Display      string
	ShowRate     bool
	ShowOriginal bool
}

// BadgeSink inserts a <span> badge after each anchor.
type BadgeSink struct {
	doc    *Document
	opts   BadgeOptions
	badges map[page.Handle]*html.Node
}

var _ page.Sink = (*BadgeSink)(nil)

// NewBadgeSink creates a sink writing into doc.
func NewBadgeSink(doc *Document, opts BadgeOptions) *BadgeSink {
	return &BadgeSink{
		doc:    doc,
		opts:   opts,
		badges: make(map[page.Handle]*html.Node),
	}
}

// SetOptions changes how subsequent badges are rendered.
func (s *BadgeSink) SetOptions(opts BadgeOptions) {
	s.opts = opts
}

// Annotate inserts a badge for r right after anchor.
func (s *BadgeSink) Annotate(anchor page.Node, r *convert.Result) (page.Handle, error) {
	a, ok := anchor.(*html.Node)
	if !ok || a == nil {
		return "", fmt.Errorf("annotating %T: %w", anchor, ErrDetachedAnchor)
	}
	if a.Parent == nil {
		return "", ErrDetachedAnchor
	}

	id := uuid.NewString()
	badge := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: BadgeClass},
			{Key: BadgeAttr, Val: id},
		},
	}
	if s.opts.Display != "" {
		badge.Attr = append(badge.Attr, html.Attribute{Key: "data-fx-display", Val: s.opts.Display})
	}
	if title := s.title(r); title != "" {
		badge.Attr = append(badge.Attr, html.Attribute{Key: "title", Val: title})
	}
	badge.AppendChild(&html.Node{Type: html.TextNode, Data: "≈" + r.Formatted})

	a.Parent.InsertBefore(badge, a.NextSibling)

	h := page.Handle(id)
	s.badges[h] = badge
	return h, nil
}

func (s *BadgeSink) title(r *convert.Result) string {
	var title string
	if s.opts.ShowOriginal {
		title = strconv.FormatFloat(r.OriginalAmount, 'f', -1, 64) + " " + r.OriginalCurrency
	}
	if s.opts.ShowRate {
		if title != "" {
			title += " · "
		}
		title += convert.RateLabel(r)
	}
	return title
}

// Remove detaches the badge for h.
func (s *BadgeSink) Remove(h page.Handle) error {
	badge, ok := s.badges[h]
	if !ok {
		return ErrUnknownHandle
	}
	if badge.Parent != nil {
		badge.Parent.RemoveChild(badge)
	}
	delete(s.badges, h)
	return nil
}

// RemoveAll detaches every badge in the document, including ones this sink
// did not insert.
func (s *BadgeSink) RemoveAll() error {
	for h := range s.badges {
		if err := s.Remove(h); err != nil {
			return err
		}
	}
	s.doc.sel.Find("[" + BadgeAttr + "]").Remove()
	return nil
}

// Len returns the number of badges currently inserted by this sink.
func (s *BadgeSink) Len() int {
	return len(s.badges)
}
