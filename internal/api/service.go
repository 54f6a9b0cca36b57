package api

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/patrickmn/go-cache"

	"github.com/zombor/fx-annotator/internal/convert"
	"github.com/zombor/fx-annotator/internal/currency"
	"github.com/zombor/fx-annotator/internal/detect"
	"github.com/zombor/fx-annotator/internal/htmldoc"
	"github.com/zombor/fx-annotator/internal/rates"
	"github.com/zombor/fx-annotator/internal/session"
	"github.com/zombor/fx-annotator/internal/settings"
)

// DefaultSessionTTL is how long an idle page session is kept.
const DefaultSessionTTL = 30 * time.Minute

var (
	// ErrSessionNotFound is returned for unknown or expired session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnsupportedCurrency is returned when a currency cannot be resolved.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// RateProvider serves and clears rate tables.
type RateProvider interface {
	GetRates(ctx context.Context, base string) (rates.Response, error)
	ClearCache() error
}

// IDGenerator generates session IDs
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Rates       RateProvider
	Settings    *settings.Store
	Detector    *detect.Detector
	Converter   *convert.Converter
	SessionTTL  time.Duration
	IDGenerator IDGenerator
	// SessionDelays overrides the trigger debounce windows of new sessions.
	SessionDelays map[session.Kind]time.Duration
	Logger        *slog.Logger
}

// Service implements the API operations.
type Service struct {
	rates     RateProvider
	settings  *settings.Store
	detector  *detect.Detector
	converter *convert.Converter
	ids       IDGenerator
	delays    map[session.Kind]time.Duration
	sessions  *cache.Cache
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
}

// liveSession is a registered page session.
type liveSession struct {
	id          string
	host        string
	sess        *session.Session
	unsubscribe func()

	mu      sync.Mutex
	notices []session.Notice
}

func (l *liveSession) notify(n session.Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *liveSession) Notices() []session.Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]session.Notice{}, l.notices...)
}

func (l *liveSession) close() {
	l.unsubscribe()
	l.sess.Close()
}

// NewService creates a Service.
func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Detector == nil {
		opts.Detector = detect.New(logger)
	}
	if opts.Converter == nil {
		opts.Converter = convert.New(convert.Options{Logger: logger})
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuidGenerator{}
	}

	sessions := cache.New(opts.SessionTTL, opts.SessionTTL/2)
	sessions.OnEvicted(func(id string, v any) {
		v.(*liveSession).close()
		logger.Debug("Session closed", "id", id)
	})

	return &Service{
		rates:     opts.Rates,
		settings:  opts.Settings,
		detector:  opts.Detector,
		converter: opts.Converter,
		ids:       opts.IDGenerator,
		delays:    opts.SessionDelays,
		sessions:  sessions,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

// sanitizeText strips markup from user supplied text and decodes entities so
// "&yen;100" reaches the detector as "¥100".
func (s *Service) sanitizeText(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(text)))
}

// Detect returns the prices found in text.
func (s *Service) Detect(text string) []detect.Detection {
	found := s.detector.Detect(s.sanitizeText(text))
	if found == nil {
		return []detect.Detection{}
	}
	return found
}

// ConvertRequest is the input to Convert. To and Decimals default to the
// user settings.
type ConvertRequest struct {
	Amount   float64 `json:"amount"`
	From     string  `json:"from"`
	To       string  `json:"to,omitempty"`
	Decimals *int    `json:"decimals,omitempty"`
}

// Convert converts a single amount.
func (s *Service) Convert(ctx context.Context, req ConvertRequest) (*convert.Result, error) {
	cur, err := s.settings.Load()
	if err != nil {
		return nil, err
	}

	from := currency.NormalizeCode(s.sanitizeText(req.From), "", 0)
	if from == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, req.From)
	}
	to := cur.BaseCurrency
	if req.To != "" {
		to = currency.NormalizeCode(s.sanitizeText(req.To), "", 0)
		if to == "" {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, req.To)
		}
	}
	decimals := cur.DecimalPlaces
	if req.Decimals != nil {
		decimals = *req.Decimals
	}

	resp, err := s.rates.GetRates(ctx, to)
	if err != nil {
		return nil, err
	}
	return s.converter.Convert(req.Amount, from, to, resp.Table, decimals)
}

// Rates returns the rate table for base.
func (s *Service) Rates(ctx context.Context, base string) (rates.Response, error) {
	code := strings.ToUpper(strings.TrimSpace(base))
	if !currency.IsSupported(code) {
		return rates.Response{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, base)
	}
	return s.rates.GetRates(ctx, code)
}

// ClearRates drops every cached rate table.
func (s *Service) ClearRates() error {
	return s.rates.ClearCache()
}

// Settings returns the current settings.
func (s *Service) Settings() (settings.Settings, error) {
	return s.settings.Load()
}

// SaveSettings validates and saves next. Open sessions are notified.
func (s *Service) SaveSettings(next settings.Settings) (settings.Settings, error) {
	return s.settings.Save(next)
}

// AnnotateResult is the outcome of a one-shot annotation.
type AnnotateResult struct {
	HTML    string           `json:"html"`
	Stats   session.Stats    `json:"stats"`
	Notices []session.Notice `json:"notices"`
}

// Annotate parses a page, annotates it once and renders it.
func (s *Service) Annotate(ctx context.Context, host string, page io.Reader) (AnnotateResult, error) {
	l, err := s.openSession(ctx, "", host, page)
	if err != nil {
		return AnnotateResult{}, err
	}
	defer l.close()

	out, err := l.sess.HTML()
	if err != nil {
		return AnnotateResult{}, err
	}
	st, err := l.sess.Stats()
	if err != nil {
		return AnnotateResult{}, err
	}
	return AnnotateResult{HTML: out, Stats: st, Notices: l.Notices()}, nil
}

// CreateSession starts a page session and returns its ID.
func (s *Service) CreateSession(ctx context.Context, host string, page io.Reader) (string, error) {
	id := s.ids.Generate()
	l, err := s.openSession(ctx, id, host, page)
	if err != nil {
		return "", err
	}
	s.sessions.SetDefault(id, l)
	s.logger.Info("Session created", "id", id, "host", host)
	return id, nil
}

func (s *Service) openSession(ctx context.Context, id, host string, page io.Reader) (*liveSession, error) {
	doc, err := htmldoc.Parse(page)
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}

	l := &liveSession{id: id, host: host}
	l.sess = session.New(doc, host, session.Deps{
		Rates:     s.rates,
		Settings:  s.settings,
		Notify:    l.notify,
		Detector:  s.detector,
		Converter: s.converter,
		Delays:    s.delays,
		Logger:    s.logger,
	})
	l.unsubscribe = s.settings.Subscribe(l.sess.OnSettingsChange)

	if err := l.sess.Start(ctx); err != nil {
		l.close()
		return nil, fmt.Errorf("starting session: %w", err)
	}
	return l, nil
}

func (s *Service) session(id string) (*liveSession, error) {
	v, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	// Touch the entry so active sessions do not expire.
	s.sessions.SetDefault(id, v)
	return v.(*liveSession), nil
}

// SessionView is the externally visible state of a session.
type SessionView struct {
	ID      string           `json:"id"`
	Host    string           `json:"host"`
	HTML    string           `json:"html,omitempty"`
	Stats   session.Stats    `json:"stats"`
	Notices []session.Notice `json:"notices"`
}

// GetSession renders a session.
func (s *Service) GetSession(id string, withHTML bool) (SessionView, error) {
	l, err := s.session(id)
	if err != nil {
		return SessionView{}, err
	}
	st, err := l.sess.Stats()
	if err != nil {
		return SessionView{}, err
	}
	view := SessionView{ID: l.id, Host: l.host, Stats: st, Notices: l.Notices()}
	if withHTML {
		if view.HTML, err = l.sess.HTML(); err != nil {
			return SessionView{}, err
		}
	}
	return view, nil
}

// AppendToSession appends markup to the session page body.
func (s *Service) AppendToSession(id, markup string) error {
	l, err := s.session(id)
	if err != nil {
		return err
	}
	return l.sess.Mutate(func(doc *htmldoc.Document) error {
		return doc.AppendFragment(markup)
	})
}

// TriggerSession delivers a trigger to a session.
func (s *Service) TriggerSession(id string, kind session.Kind) error {
	l, err := s.session(id)
	if err != nil {
		return err
	}
	l.sess.Trigger(kind)
	return nil
}

// CloseSession closes and forgets a session.
func (s *Service) CloseSession(id string) error {
	if _, ok := s.sessions.Get(id); !ok {
		return ErrSessionNotFound
	}
	s.sessions.Delete(id)
	return nil
}

// Close closes every open session.
func (s *Service) Close() {
	for id := range s.sessions.Items() {
		s.sessions.Delete(id)
	}
}
