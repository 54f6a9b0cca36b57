package detect

import (
	"log/slog"
	"strings"

	"github.com/zombor/fx-annotator/internal/currency"
)

// Detection is one recognized amount in a span of text.
type Detection struct {
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	RawText    string  `json:"rawText"`
	Confidence float64 `json:"confidence"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Pattern    string  `json:"pattern"`
}

// Detector runs the lexical matchers over text and filters the results.
type Detector struct {
	logger   *slog.Logger
	matchers []matcher
}

// New creates a Detector. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		logger:   logger,
		matchers: defaultMatchers(),
	}
}

var defaultDetector = New(nil)

// Detect runs the default detector over text.
func Detect(text string) []Detection {
	return defaultDetector.Detect(text)
}

type dedupKey struct {
	start    int
	currency string
	amount   float64
}

// Detect returns every plausible amount in text. The first match for a given
// (offset, currency, amount) wins. A failing matcher yields no detections
// rather than an error.
func (d *Detector) Detect(text string) (results []Detection) {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("Currency detection failed", "error", r)
			results = nil
		}
	}()

	seen := make(map[dedupKey]bool)
	symbolStarts := make(map[int]bool)

	for _, m := range d.matchers {
		for _, c := range m.find(text) {
			// the symbol matcher already resolved this glyph from context
			if c.yenForm && symbolStarts[c.start] {
				continue
			}

			code := c.currency
			if code == "" {
				code = currency.NormalizeCode(c.symbol, text, c.start)
			}
			if code == "" || !currency.IsSupported(code) {
				continue
			}

			amount := currency.ParseAmount(c.literal)
			if c.clean {
				amount = CleanAmount(amount, text, c.numStart)
			}
			if amount <= 0 || !IsValidPrice(amount, text) {
				continue
			}

			key := dedupKey{start: c.start, currency: code, amount: amount}
			if seen[key] {
				continue
			}
			seen[key] = true
			if m.name == "symbol" {
				symbolStarts[c.start] = true
			}

			results = append(results, Detection{
				Amount:     amount,
				Currency:   code,
				RawText:    text[c.start:c.end],
				Confidence: m.confidence,
				Start:      c.start,
				End:        c.end,
				Pattern:    m.name,
			})
		}
	}
	return results
}

// HasPrice reports whether text contains at least one detectable amount.
func (d *Detector) HasPrice(text string) bool {
	return len(d.Detect(text)) > 0
}
