package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultMaxAge is how long a fetched table is considered fresh.
const DefaultMaxAge = time.Hour

// ErrRatesUnavailable is returned when rates can neither be fetched nor
// served from cache.
var ErrRatesUnavailable = errors.New("exchange rates unavailable")

// Fetcher retrieves fresh rates.
type Fetcher interface {
	Fetch(ctx context.Context, base string) (Table, error)
}

// Store persists rate tables between runs.
type Store interface {
	GetRates(base string) (Table, error)
	SaveRates(t Table) error
	ClearRates() error
}

// Response is the result of GetRates.
type Response struct {
	Table  Table `json:"table"`
	Cached bool  `json:"cached"`
	// Stale is set when an expired table was served because fetching failed.
	Stale bool `json:"stale"`
}

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	MaxAge time.Duration
	Clock  TimeSource
	Logger *slog.Logger
}

// Provider serves rate tables from a memory cache, then the persistent
// store, then the network, falling back to stale data when the network fails.
type Provider struct {
	fetcher Fetcher
	store   Store
	mem     *cache.Cache
	maxAge  time.Duration
	clock   TimeSource
	logger  *slog.Logger
}

// NewProvider creates a Provider. store may be nil for a memory-only cache.
func NewProvider(fetcher Fetcher, store Store, opts ProviderOptions) *Provider {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Clock == nil {
		opts.Clock = defaultTimeSource{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Provider{
		fetcher: fetcher,
		store:   store,
		mem:     cache.New(opts.MaxAge, 2*opts.MaxAge),
		maxAge:  opts.MaxAge,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
}

// GetRates returns the rate table for base.
func (p *Provider) GetRates(ctx context.Context, base string) (Response, error) {
	base = strings.ToUpper(base)
	now := p.clock.Now()

	if v, ok := p.mem.Get(base); ok {
		if t := v.(Table); t.Fresh(now, p.maxAge) {
			return Response{Table: t, Cached: true}, nil
		}
	}

	var stored *Table
	if p.store != nil {
		if t, err := p.store.GetRates(base); err == nil {
			if t.Fresh(now, p.maxAge) {
				p.remember(t, now)
				return Response{Table: t, Cached: true}, nil
			}
			stored = &t
		}
	}

	t, err := p.fetcher.Fetch(ctx, base)
	if err != nil {
		if stored != nil {
			p.logger.Warn("Failed to fetch rates, using stale cache",
				"base", base, "age", now.Sub(stored.RetrievedAt).Round(time.Second), "error", err)
			return Response{Table: *stored, Cached: true, Stale: true}, nil
		}
		p.logger.Error("Failed to fetch rates", "base", base, "error", err)
		return Response{}, fmt.Errorf("%w: %w", ErrRatesUnavailable, err)
	}

	if p.store != nil {
		if err := p.store.SaveRates(t); err != nil {
			p.logger.Warn("Failed to persist rates", "base", base, "error", err)
		}
	}
	p.remember(t, now)
	return Response{Table: t}, nil
}

func (p *Provider) remember(t Table, now time.Time) {
	ttl := p.maxAge - now.Sub(t.RetrievedAt)
	if ttl <= 0 {
		return
	}
	p.mem.Set(t.Base, t, ttl)
}

// ClearCache drops every cached table.
func (p *Provider) ClearCache() error {
	p.mem.Flush()
	if p.store == nil {
		return nil
	}
	if err := p.store.ClearRates(); err != nil {
		return fmt.Errorf("clearing rates: %w", err)
	}
	return nil
}
