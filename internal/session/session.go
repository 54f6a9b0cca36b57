// Package session drives annotation of a single page: it loads settings,
// fetches rates, scans on triggers and reacts to settings changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zombor/fx-annotator/internal/convert"
	"github.com/zombor/fx-annotator/internal/detect"
	"github.com/zombor/fx-annotator/internal/htmldoc"
	"github.com/zombor/fx-annotator/internal/page"
	"github.com/zombor/fx-annotator/internal/rates"
	"github.com/zombor/fx-annotator/internal/settings"
	"github.com/zombor/fx-annotator/internal/sites"
)

// ErrClosed is returned by operations on a closed Session.
var ErrClosed = errors.New("session closed")

// Kind identifies what caused a scan.
type Kind string

const (
	KindLoad         Kind = "load"
	KindMutation     Kind = "mutation"
	KindScroll       Kind = "scroll"
	KindIntersection Kind = "intersection"
	KindVisibility   Kind = "visibility"
	// KindDelayed is a site specific post-load rescan.
	KindDelayed Kind = "delayed"
)

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindLoad, KindMutation, KindScroll, KindIntersection, KindVisibility, KindDelayed:
		return k, nil
	}
	return "", fmt.Errorf("unknown trigger %q", s)
}

// DefaultDelays are the debounce windows per trigger. Kinds without an entry
// scan immediately.
var DefaultDelays = map[Kind]time.Duration{
	KindMutation:     500 * time.Millisecond,
	KindScroll:       1000 * time.Millisecond,
	KindIntersection: 500 * time.Millisecond,
}

const (
	NoticeRatesUnavailable = "rates_unavailable"

	defaultFetchTimeout = 15 * time.Second
)

// Notice is a user facing message raised by a session.
type Notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RateSource provides rate tables.
type RateSource interface {
	GetRates(ctx context.Context, base string) (rates.Response, error)
}

// SettingsSource provides the current user settings.
type SettingsSource interface {
	Load() (settings.Settings, error)
}

// Deps holds the collaborators of a Session.
type Deps struct {
	Rates    RateSource
	Settings SettingsSource
	// Notify receives notices; it is called from the session goroutine.
	Notify    func(Notice)
	Detector  *detect.Detector
	Converter *convert.Converter
	Logger    *slog.Logger
	// Delays overrides DefaultDelays per kind.
	Delays       map[Kind]time.Duration
	FetchTimeout time.Duration
}

// Stats describes the session so far.
type Stats struct {
	Active     bool       `json:"active"`
	RatesReady bool       `json:"ratesReady"`
	Scans      int        `json:"scans"`
	Dropped    int64      `json:"dropped"`
	Annotated  int        `json:"annotated"`
	Last       page.Stats `json:"last"`
}

// Session owns one page. All page state is touched only by the session
// goroutine; the exported methods hand work to it.
type Session struct {
	host    string
	doc     *htmldoc.Document
	sink    *htmldoc.BadgeSink
	scanner *page.Scanner
	deps    Deps
	logger  *slog.Logger
	delays  map[Kind]time.Duration

	ops       chan func()
	done      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool

	scanning atomic.Bool
	dropped  atomic.Int64
	debounce atomic.Int64

	timersMu sync.Mutex
	timers   map[Kind]*time.Timer
	delayed  []*time.Timer
	refresh  *time.Timer

	// Owned by the loop.
	settings   settings.Settings
	table      rates.Table
	active     bool
	ratesReady bool
	noticed    bool
	scans      int
	last       page.Stats
}

// New creates a Session for doc served from host. Call Start to begin.
func New(doc *htmldoc.Document, host string, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("host", host)
	deps.Logger = logger
	if deps.Notify == nil {
		deps.Notify = func(Notice) {}
	}
	if deps.FetchTimeout <= 0 {
		deps.FetchTimeout = defaultFetchTimeout
	}

	delays := make(map[Kind]time.Duration, len(DefaultDelays))
	for k, d := range DefaultDelays {
		delays[k] = d
	}
	for k, d := range deps.Delays {
		delays[k] = d
	}

	sink := htmldoc.NewBadgeSink(doc, htmldoc.BadgeOptions{})
	return &Session{
		host: host,
		doc:  doc,
		sink: sink,
		scanner: page.NewScanner(sink, page.Options{
			Detector:  deps.Detector,
			Converter: deps.Converter,
			Logger:    logger,
		}),
		deps:    deps,
		logger:  logger,
		delays:  delays,
		ops:     make(chan func()),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		timers:  make(map[Kind]*time.Timer),
	}
}

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.done:
			return
		}
	}
}

func (s *Session) ensureLoop() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.loop()
	})
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(fn func()) error {
	s.ensureLoop()
	finished := make(chan struct{})
	select {
	case s.ops <- func() {
		defer close(finished)
		fn()
	}:
	case <-s.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// Start loads settings, fetches rates and runs the initial scan. A rates
// failure is reported through Notify and leaves the page unannotated; only
// settings failures are returned.
func (s *Session) Start(ctx context.Context) error {
	var err error
	if doErr := s.do(func() { err = s.init(ctx) }); doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) init(ctx context.Context) error {
	cur, err := s.deps.Settings.Load()
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	s.setSettings(cur)
	if !s.allowed() {
		s.logger.Info("Annotation disabled for site")
		return nil
	}

	s.active = true
	s.configure()
	s.refreshRates(ctx)
	s.scan(KindLoad)
	s.schedulePostLoad()
	s.scheduleRefresh()
	return nil
}

func (s *Session) setSettings(next settings.Settings) {
	s.settings = next
	s.debounce.Store(int64(next.Debounce()))
}

func (s *Session) allowed() bool {
	return s.settings.Enabled && s.settings.SiteAllowed(s.host)
}

func (s *Session) configure() {
	s.scanner.Configure(page.Config{
		BaseCurrency:  s.settings.BaseCurrency,
		DecimalPlaces: s.settings.DecimalPlaces,
		MaxElements:   s.settings.MaxElementsToScan,
		Selectors:     sites.Selectors(s.host),
	})
	s.sink.SetOptions(htmldoc.BadgeOptions{
		Display:      s.settings.DisplayFormat,
		ShowRate:     s.settings.ShowExchangeRate,
		ShowOriginal: s.settings.ShowOriginalCurrency,
	})
}

// refreshRates fetches the table for the configured base currency and
// reports whether it changed.
func (s *Session) refreshRates(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.deps.FetchTimeout)
	defer cancel()

	resp, err := s.deps.Rates.GetRates(ctx, s.settings.BaseCurrency)
	if err != nil {
		s.logger.Warn("Rates unavailable, page left unannotated", "base", s.settings.BaseCurrency, "error", err)
		s.ratesReady = false
		if !s.noticed {
			s.noticed = true
			s.deps.Notify(Notice{
				Kind:    NoticeRatesUnavailable,
				Message: fmt.Sprintf("Exchange rates for %s are unavailable", s.settings.BaseCurrency),
			})
		}
		return false
	}

	changed := !s.ratesReady ||
		resp.Table.Base != s.table.Base ||
		!resp.Table.RetrievedAt.Equal(s.table.RetrievedAt)
	s.noticed = false
	s.ratesReady = true
	s.table = resp.Table
	s.scanner.SetRates(resp.Table)
	return changed
}

func (s *Session) scan(kind Kind) {
	if !s.active || !s.ratesReady {
		return
	}
	s.scanning.Store(true)
	defer s.scanning.Store(false)

	stats, err := s.scanner.Scan(s.doc)
	if err != nil {
		s.logger.Warn("Scan failed", "trigger", kind, "error", err)
		return
	}
	s.scans++
	s.last = stats
	s.logger.Debug("Scanned page", "trigger", kind, "annotated", stats.Annotated)
}

// Trigger requests a scan. Debounced kinds wait for their window to pass
// without another trigger of the same kind; the rest scan before Trigger
// returns. Triggers that arrive during a scan are dropped.
func (s *Session) Trigger(kind Kind) {
	if d, ok := s.delays[kind]; ok && d > 0 {
		if kind == KindMutation {
			// A longer user debounce setting wins.
			d = max(d, time.Duration(s.debounce.Load()))
		}
		s.timersMu.Lock()
		if t, ok := s.timers[kind]; ok {
			t.Stop()
		}
		s.timers[kind] = time.AfterFunc(d, func() { s.fire(kind) })
		s.timersMu.Unlock()
		return
	}
	s.fire(kind)
}

func (s *Session) fire(kind Kind) {
	if s.scanning.Load() {
		s.dropped.Add(1)
		s.logger.Debug("Dropped trigger during scan", "trigger", kind)
		return
	}
	if err := s.do(func() { s.scan(kind) }); err != nil {
		s.logger.Debug("Trigger after close", "trigger", kind)
	}
}

func (s *Session) schedulePostLoad() {
	delays := sites.Lookup(s.host).Delays
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	for _, d := range delays {
		s.delayed = append(s.delayed, time.AfterFunc(d, func() { s.fire(KindDelayed) }))
	}
}

func (s *Session) scheduleRefresh() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
	if !s.settings.AutoUpdate || s.settings.UpdateInterval <= 0 {
		return
	}
	s.refresh = time.AfterFunc(s.settings.UpdateEvery(), func() {
		err := s.do(func() {
			if !s.active {
				return
			}
			if s.refreshRates(context.Background()) {
				s.rescan()
			}
			s.scheduleRefresh()
		})
		if err != nil {
			s.logger.Debug("Rate refresh after close")
		}
	})
}

// rescan removes every badge and annotates the page again.
func (s *Session) rescan() {
	if err := s.scanner.Reset(); err != nil {
		s.logger.Warn("Failed to reset annotations", "error", err)
	}
	s.scan(KindLoad)
}

// OnSettingsChange applies a settings change. Its signature matches
// settings.Listener.
func (s *Session) OnSettingsChange(prev, next settings.Settings) {
	err := s.do(func() {
		wasActive := s.active
		s.setSettings(next)

		if !s.allowed() {
			if wasActive {
				s.teardown()
			}
			return
		}

		s.active = true
		s.configure()
		if !wasActive || next.NeedsRescan(prev) || !s.ratesReady {
			s.refreshRates(context.Background())
			s.rescan()
		}
		s.scheduleRefresh()
	})
	if err != nil {
		s.logger.Debug("Settings change after close")
	}
}

func (s *Session) teardown() {
	s.active = false
	s.stopTimers()
	if err := s.scanner.Reset(); err != nil {
		s.logger.Warn("Failed to remove annotations", "error", err)
	}
	s.logger.Info("Annotation stopped")
}

func (s *Session) stopTimers() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
	}
	for _, t := range s.delayed {
		t.Stop()
	}
	s.delayed = nil
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
}

// Mutate applies fn to the document on the session goroutine, then issues a
// mutation trigger.
func (s *Session) Mutate(fn func(doc *htmldoc.Document) error) error {
	var err error
	if doErr := s.do(func() { err = fn(s.doc) }); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	s.Trigger(KindMutation)
	return nil
}

// Stats returns a snapshot of the session counters. It returns ErrClosed
// once the session is closed.
func (s *Session) Stats() (Stats, error) {
	st := Stats{Dropped: s.dropped.Load()}
	err := s.do(func() {
		st.Active = s.active
		st.RatesReady = s.ratesReady
		st.Scans = s.scans
		st.Annotated = s.scanner.Annotated()
		st.Last = s.last
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// HTML renders the current document.
func (s *Session) HTML() (string, error) {
	var out string
	if err := s.do(func() { out = s.doc.String() }); err != nil {
		return "", err
	}
	return out, nil
}

// Close stops pending timers and the session goroutine. Badges already in
// the document are left in place.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stopTimers()
		// A session closed before it started never starts.
		s.startOnce.Do(func() {})
		close(s.done)
		if s.started.Load() {
			<-s.stopped
		}
	})
}
