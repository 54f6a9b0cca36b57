package page

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/zombor/fx-annotator/internal/currency"
	"github.com/zombor/fx-annotator/internal/detect"
)

const (
	maxTextRunes = 1000
	maxChildren  = 30
)

var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"template": true,
	"svg":      true,
}

var (
	priceChars = regexp.MustCompile(`[$¥￥€£₹₽₩\d]`)
	numberOnly = regexp.MustCompile(`^\d[\d,\s\x{00A0}\x{2009}\x{202F}]*\.?\d*$`)
)

// collection is the candidate set of one scan.
type collection struct {
	doc      Document
	detector *detect.Detector

	nodes []Node
	seen  map[Node]bool
	order map[Node]int
	text  map[Node]string
	price map[Node]bool
}

func newCollection(doc Document, detector *detect.Detector) *collection {
	c := &collection{
		doc:      doc,
		detector: detector,
		seen:     make(map[Node]bool),
		order:    make(map[Node]int),
		text:     make(map[Node]string),
		price:    make(map[Node]bool),
	}
	c.indexOrder()
	return c
}

func (c *collection) indexOrder() {
	i := 0
	var walk func(n Node)
	walk = func(n Node) {
		c.order[n] = i
		i++
		for _, ch := range c.doc.Children(n) {
			walk(ch)
		}
	}
	if root := c.doc.Root(); root != nil {
		walk(root)
	}
}

func (c *collection) textOf(n Node) string {
	t, ok := c.text[n]
	if !ok {
		t = strings.TrimSpace(c.doc.TextContent(n))
		c.text[n] = t
	}
	return t
}

func (c *collection) hasPrice(n Node) bool {
	p, ok := c.price[n]
	if !ok {
		p = c.detector.HasPrice(c.textOf(n))
		c.price[n] = p
	}
	return p
}

func (c *collection) add(n Node) {
	if n == nil || c.seen[n] || insideAnnotation(c.doc, n) {
		return
	}
	c.seen[n] = true
	c.nodes = append(c.nodes, n)
}

// collect gathers candidates from selectors, then from a bounded walk of the
// tree, stopping at limit.
func (c *collection) collect(selectors []string, limit int) {
	for _, sel := range selectors {
		for _, n := range c.doc.QueryAll(sel) {
			if len(c.nodes) >= limit {
				return
			}
			c.add(n)
		}
	}

	var walk func(n Node) bool
	walk = func(n Node) bool {
		if len(c.nodes) >= limit {
			return false
		}
		if skippedTags[c.doc.Tag(n)] || c.doc.IsAnnotation(n) {
			return true
		}
		if c.acceptable(n) {
			c.add(n)
		}
		for _, ch := range c.doc.Children(n) {
			if !walk(ch) {
				return false
			}
		}
		return true
	}
	if root := c.doc.Root(); root != nil {
		walk(root)
	}
}

func (c *collection) acceptable(n Node) bool {
	t := c.textOf(n)
	l := utf8.RuneCountInString(t)
	if l < 1 || l > maxTextRunes {
		return false
	}
	if len(c.doc.Children(n)) > maxChildren {
		return false
	}
	return priceChars.MatchString(t)
}

// candidate is a reconciled element. A wrapper is an element that yields to
// priced descendants; only the text outside them is its own.
type candidate struct {
	node    Node
	wrapper bool
	own     string
	// covered holds the price keys found inside the priced descendants.
	covered map[string]bool
}

// reconcile drops candidates that would annotate a price twice or that are
// not prices, and returns the rest in document order.
func (c *collection) reconcile() []candidate {
	// an ancestor of a priced candidate yields to the innermost element
	outer := make(map[Node]bool)
	for _, n := range c.nodes {
		if !c.hasPrice(n) {
			continue
		}
		for p := c.doc.Parent(n); p != nil; p = c.doc.Parent(p) {
			if c.seen[p] {
				outer[p] = true
			}
		}
	}

	kept := make([]candidate, 0, len(c.nodes))
	for _, n := range c.nodes {
		if outer[n] {
			if w, ok := c.wrapper(n); ok {
				kept = append(kept, w)
			}
			continue
		}
		if detect.IsPurchaseCount(c.textOf(n)) {
			continue
		}
		kept = append(kept, candidate{node: n})
	}
	slices.SortStableFunc(kept, func(a, b candidate) int {
		return cmp.Compare(c.order[a.node], c.order[b.node])
	})

	type siblingKey struct {
		parent Node
		text   string
	}
	first := make(map[siblingKey]bool)
	out := kept[:0]
	for _, cand := range kept {
		if !cand.wrapper && c.hasPrice(cand.node) {
			k := siblingKey{parent: c.doc.Parent(cand.node), text: c.textOf(cand.node)}
			if k.parent != nil && first[k] {
				continue
			}
			first[k] = true
		}
		out = append(out, cand)
	}
	return out
}

// wrapper keeps an outer element when its text outside the priced
// descendants still holds a price, such as "Was $10" beside a child "$20".
func (c *collection) wrapper(n Node) (candidate, bool) {
	own := c.textOf(n)
	covered := make(map[string]bool)
	for _, d := range c.pricedBelow(n) {
		inner := c.textOf(d)
		own = strings.Replace(own, inner, " ", 1)
		for _, det := range c.detector.Detect(inner) {
			covered[priceKey(det)] = true
		}
	}
	own = strings.TrimSpace(own)
	if !c.detector.HasPrice(own) || detect.IsPurchaseCount(own) {
		return candidate{}, false
	}
	return candidate{node: n, wrapper: true, own: own, covered: covered}, true
}

// pricedBelow returns the outermost priced candidates inside n.
func (c *collection) pricedBelow(n Node) []Node {
	var out []Node
	var walk func(p Node)
	walk = func(p Node) {
		for _, ch := range c.doc.Children(p) {
			if c.seen[ch] && c.hasPrice(ch) {
				out = append(out, ch)
				continue
			}
			walk(ch)
		}
	}
	walk(n)
	return out
}

// extract turns a reconciled candidate into detections with anchors.
// Structured markup (a symbol-only element followed by number-only
// elements) anchors on the number; anything else falls back to matching the
// whole text and anchors on the candidate. A wrapper contributes only the
// prices of its own text that no priced descendant already shows.
func (s *Scanner) extract(doc Document, cand candidate) []target {
	n := cand.node
	if cand.wrapper {
		var out []target
		for _, d := range s.detector.Detect(cand.own) {
			if !cand.covered[priceKey(d)] {
				out = append(out, target{detection: d, anchor: n})
			}
		}
		return out
	}

	text := strings.TrimSpace(doc.TextContent(n))
	if t, ok := s.structured(doc, n, text); ok {
		return []target{t}
	}

	var out []target
	for _, d := range s.detector.Detect(text) {
		out = append(out, target{detection: d, anchor: n})
	}
	return out
}

func (s *Scanner) structured(doc Document, n Node, context string) (target, bool) {
	for _, ch := range doc.Children(n) {
		if doc.IsAnnotation(ch) {
			continue
		}
		sym := strings.TrimSpace(doc.TextContent(ch))
		if !isSymbolOnly(sym) {
			continue
		}

		var (
			digits string
			anchor Node
		)
		for sib := doc.NextSibling(ch); sib != nil; sib = doc.NextSibling(sib) {
			if doc.IsAnnotation(sib) {
				break
			}
			part := strings.TrimSpace(doc.TextContent(sib))
			if part == "" || !numberOnly.MatchString(digits+part) {
				break
			}
			digits += part
			anchor = sib
		}
		if anchor == nil {
			continue
		}

		code := currency.NormalizeCode(sym, context, strings.Index(context, sym))
		amount := currency.ParseAmount(strings.TrimSuffix(digits, "."))
		if code == "" || amount <= 0 || !detect.IsValidPrice(amount, context) {
			continue
		}
		return target{
			detection: detect.Detection{
				Amount:     amount,
				Currency:   code,
				RawText:    sym + digits,
				Confidence: 0.9,
				Pattern:    "structured",
			},
			anchor: anchor,
		}, true
	}
	return target{}, false
}

func isSymbolOnly(s string) bool {
	if s == "" || utf8.RuneCountInString(s) > 3 {
		return false
	}
	return currency.NormalizeCode(s, "", 0) != "" || s == "¥"
}
