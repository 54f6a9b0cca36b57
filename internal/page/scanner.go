package page

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/zombor/fx-annotator/internal/convert"
	"github.com/zombor/fx-annotator/internal/detect"
	"github.com/zombor/fx-annotator/internal/rates"
)

// ErrScanInProgress is returned when Scan is entered while a scan runs. The
// request is dropped, not queued.
var ErrScanInProgress = errors.New("scan already in progress")

const defaultMaxElements = 1000

// Config is the part of the user settings a scan depends on.
type Config struct {
	BaseCurrency  string
	DecimalPlaces int
	MaxElements   int
	// Selectors are tried in order before the tree walk; site specific
	// selectors come first.
	Selectors []string
}

// Stats summarizes one scan pass.
type Stats struct {
	Candidates int `json:"candidates"`
	Detected   int `json:"detected"`
	Annotated  int `json:"annotated"`
	Skipped    int `json:"skipped"`
}

// record is one annotated price.
type record struct {
	anchor Node
	handle Handle
}

// Options holds the Scanner collaborators.
type Options struct {
	Detector  *detect.Detector
	Converter *convert.Converter
	Logger    *slog.Logger
}

// Scanner finds prices in a Document and annotates each distinct price once.
// Annotated prices persist across scans until Reset. A Scanner belongs to a
// single page session and must not be shared between goroutines.
type Scanner struct {
	sink      Sink
	detector  *detect.Detector
	converter *convert.Converter
	logger    *slog.Logger

	busy atomic.Bool

	cfg     Config
	table   rates.Table
	records map[string][]record
}

// NewScanner creates a Scanner that annotates through sink.
func NewScanner(sink Sink, opts Options) *Scanner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := opts.Detector
	if d == nil {
		d = detect.New(logger)
	}
	c := opts.Converter
	if c == nil {
		c = convert.New(convert.Options{Logger: logger})
	}
	return &Scanner{
		sink:      sink,
		detector:  d,
		converter: c,
		logger:    logger,
		cfg:       Config{MaxElements: defaultMaxElements},
		records:   make(map[string][]record),
	}
}

// Configure replaces the scan settings. It does not clear annotations.
func (s *Scanner) Configure(cfg Config) {
	if cfg.MaxElements <= 0 {
		cfg.MaxElements = defaultMaxElements
	}
	cfg.BaseCurrency = strings.ToUpper(cfg.BaseCurrency)
	s.cfg = cfg
}

// SetRates replaces the rate table used for conversions.
func (s *Scanner) SetRates(t rates.Table) {
	s.table = t
}

// Annotated returns the number of prices annotated since the last Reset.
func (s *Scanner) Annotated() int {
	n := 0
	for _, recs := range s.records {
		n += len(recs)
	}
	return n
}

// Reset forgets every annotated price and removes all badges.
func (s *Scanner) Reset() error {
	s.records = make(map[string][]record)
	if err := s.sink.RemoveAll(); err != nil {
		s.logger.Warn("Failed to remove annotations", "error", err)
		return fmt.Errorf("removing annotations: %w", err)
	}
	return nil
}

// Scan reconciles candidate elements in doc and annotates new prices.
func (s *Scanner) Scan(doc Document) (stats Stats, err error) {
	if !s.busy.CompareAndSwap(false, true) {
		return Stats{}, ErrScanInProgress
	}
	defer s.busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scan aborted", "error", r)
			err = fmt.Errorf("scan aborted: %v", r)
		}
	}()

	c := newCollection(doc, s.detector)
	c.collect(s.cfg.Selectors, s.cfg.MaxElements)
	stats.Candidates = len(c.nodes)

	for _, cand := range c.reconcile() {
		for _, t := range s.extract(doc, cand) {
			stats.Detected++
			if s.annotate(doc, t) {
				stats.Annotated++
			} else {
				stats.Skipped++
			}
		}
	}

	s.logger.Debug("Scan finished",
		"candidates", stats.Candidates,
		"detected", stats.Detected,
		"annotated", stats.Annotated,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

// target is a detection paired with the node its badge attaches to.
type target struct {
	detection detect.Detection
	anchor    Node
}

func priceKey(d detect.Detection) string {
	return d.Currency + "-" + strconv.FormatFloat(d.Amount, 'f', -1, 64)
}

func (s *Scanner) annotate(doc Document, t target) bool {
	d := t.detection
	if d.Currency == s.cfg.BaseCurrency {
		return false
	}

	key := priceKey(d)
	for _, rec := range s.records[key] {
		if related(doc, rec.anchor, t.anchor) {
			return false
		}
	}

	result, err := s.converter.Convert(d.Amount, d.Currency, s.cfg.BaseCurrency, s.table, s.cfg.DecimalPlaces)
	if err != nil {
		s.logger.Debug("Skipping price", "price", key, "error", err)
		return false
	}

	h, err := s.sink.Annotate(t.anchor, result)
	if err != nil {
		s.logger.Warn("Failed to insert annotation", "price", key, "error", err)
		return false
	}

	s.records[key] = append(s.records[key], record{anchor: t.anchor, handle: h})
	return true
}

// related reports whether two anchors render the same logical price: the
// same node, one inside the other, or siblings under one parent.
func related(doc Document, a, b Node) bool {
	if a == b || contains(doc, a, b) || contains(doc, b, a) {
		return true
	}
	pa := doc.Parent(a)
	return pa != nil && pa == doc.Parent(b)
}
