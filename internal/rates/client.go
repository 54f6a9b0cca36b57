package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the exchangerate-api endpoint.
const DefaultBaseURL = "https://v6.exchangerate-api.com"

// ErrAPIKeyRequired is returned when the client has no API key.
var ErrAPIKeyRequired = errors.New("exchange rate API key is required")

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries      int
	InitialInterval time.Duration
	// RequestsPerSecond paces outbound calls; zero means unlimited.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Clock             TimeSource
	Logger            *slog.Logger
}

// Client fetches rate tables over HTTP.
type Client struct {
	baseURL         string
	apiKey          string
	client          *http.Client
	limiter         *rate.Limiter
	maxRetries      int
	initialInterval time.Duration
	clock           TimeSource
	logger          *slog.Logger
}

// NewClient creates a Client.
func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = defaultTimeSource{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL:         strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:          opts.APIKey,
		client:          client,
		limiter:         limiter,
		maxRetries:      opts.MaxRetries,
		initialInterval: opts.InitialInterval,
		clock:           opts.Clock,
		logger:          opts.Logger,
	}
}

// apiResponse is the body of GET /v6/{key}/latest/{base}
type apiResponse struct {
	Result             string             `json:"result"`
	ErrorType          string             `json:"error-type"`
	BaseCode           string             `json:"base_code"`
	TimeLastUpdateUnix int64              `json:"time_last_update_unix"`
	ConversionRates    map[string]float64 `json:"conversion_rates"`
}

// Fetch retrieves the latest rates for base, retrying transient failures with
// exponential backoff.
func (c *Client) Fetch(ctx context.Context, base string) (Table, error) {
	if c.apiKey == "" {
		return Table{}, ErrAPIKeyRequired
	}
	base = strings.ToUpper(base)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	var table Table
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		t, err := c.fetchOnce(ctx, base)
		if err != nil {
			return err
		}
		table = t
		return nil
	}, policy, func(err error, wait time.Duration) {
		c.logger.Warn("Rate fetch failed, retrying", "base", base, "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		return Table{}, fmt.Errorf("fetching rates for %s: %w", base, err)
	}
	return table, nil
}

func (c *Client) fetchOnce(ctx context.Context, base string) (Table, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Table{}, backoff.Permanent(fmt.Errorf("waiting for rate limiter: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v6/%s/latest/%s", c.baseURL, url.PathEscape(c.apiKey), url.PathEscape(base))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Table{}, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Table{}, fmt.Errorf("calling rates API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("rates API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return Table{}, backoff.Permanent(err)
		}
		return Table{}, err
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Table{}, fmt.Errorf("decoding response: %w", err)
	}
	if body.Result != "success" {
		return Table{}, backoff.Permanent(fmt.Errorf("rates API returned %q: %s", body.Result, body.ErrorType))
	}
	if body.BaseCode == "" {
		body.BaseCode = base
	}

	return NewTable(body.BaseCode, body.ConversionRates, c.clock.Now()), nil
}
