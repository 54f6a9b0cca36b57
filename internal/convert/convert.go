package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/zombor/fx-annotator/internal/currency"
	"github.com/zombor/fx-annotator/internal/rates"
)

var (
	// ErrSameCurrency is returned under SameCurrencySkip when from and to match.
	ErrSameCurrency = errors.New("same currency")
	// ErrRateUnavailable is returned when a required rate is missing or zero.
	ErrRateUnavailable = errors.New("rate unavailable")
	// ErrNonFinite is returned when the computed amount is NaN or infinite.
	ErrNonFinite = errors.New("non-finite conversion result")
)

// SameCurrencyPolicy decides what converting a currency into itself does.
type SameCurrencyPolicy int

const (
	// SameCurrencySkip refuses the conversion with ErrSameCurrency.
	SameCurrencySkip SameCurrencyPolicy = iota
	// SameCurrencyIdentity returns the amount unchanged at rate 1.
	SameCurrencyIdentity
)

const maxDecimalPlaces = 8

// Result is one successful conversion.
type Result struct {
	OriginalAmount   float64 `json:"originalAmount"`
	OriginalCurrency string  `json:"originalCurrency"`
	ConvertedAmount  float64 `json:"convertedAmount"`
	TargetCurrency   string  `json:"targetCurrency"`
	Rate             float64 `json:"rate"`
	Formatted        string  `json:"formattedResult"`
}

// Options configures a Converter.
type Options struct {
	SameCurrency SameCurrencyPolicy
	// MinDecimalPlaces is a floor applied on top of the requested places.
	MinDecimalPlaces int
	Logger           *slog.Logger
}

// Converter turns amounts into a target currency using a rate table.
type Converter struct {
	sameCurrency SameCurrencyPolicy
	minDecimals  int
	logger       *slog.Logger
}

// New creates a Converter.
func New(opts Options) *Converter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		sameCurrency: opts.SameCurrency,
		minDecimals:  clampPlaces(opts.MinDecimalPlaces),
		logger:       logger,
	}
}

// Convert converts amount from one currency to another. table is keyed to its
// Base, which never appears among its rates.
func (c *Converter) Convert(amount float64, from, to string, table rates.Table, decimals int) (*Result, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	places := max(clampPlaces(decimals), c.minDecimals)

	if from == to {
		if c.sameCurrency == SameCurrencySkip {
			return nil, ErrSameCurrency
		}
		return c.result(amount, from, to, 1, places), nil
	}

	rate, err := resolveRate(from, to, table)
	if err != nil {
		c.logger.Debug("Skipping conversion", "from", from, "to", to, "error", err)
		return nil, err
	}

	converted := amount * rate
	if math.IsNaN(converted) || math.IsInf(converted, 0) || math.IsNaN(rate) || math.IsInf(rate, 0) {
		c.logger.Debug("Skipping conversion", "from", from, "to", to, "error", ErrNonFinite)
		return nil, ErrNonFinite
	}

	return c.result(amount, from, to, rate, places), nil
}

func (c *Converter) result(amount float64, from, to string, rate float64, places int) *Result {
	rounded, _ := currency.Round(amount*rate, places).Float64()
	return &Result{
		OriginalAmount:   amount,
		OriginalCurrency: from,
		ConvertedAmount:  rounded,
		TargetCurrency:   to,
		Rate:             rate,
		Formatted:        Format(amount*rate, to, places),
	}
}

// resolveRate handles the three positions of the base currency: the source,
// the target, or neither (cross rate).
func resolveRate(from, to string, table rates.Table) (float64, error) {
	base := strings.ToUpper(table.Base)

	fromRate, fromOK := table.Rate(from)
	toRate, toOK := table.Rate(to)

	switch {
	case from == base:
		if !toOK {
			return 0, fmt.Errorf("%w: %s", ErrRateUnavailable, to)
		}
		return toRate, nil
	case to == base:
		if !fromOK {
			return 0, fmt.Errorf("%w: %s", ErrRateUnavailable, from)
		}
		return 1 / fromRate, nil
	default:
		if !fromOK {
			return 0, fmt.Errorf("%w: %s", ErrRateUnavailable, from)
		}
		if !toOK {
			return 0, fmt.Errorf("%w: %s", ErrRateUnavailable, to)
		}
		return toRate / fromRate, nil
	}
}

// Format renders amount rounded to places with comma grouping, followed by
// the currency code: "1,234.57 CNY".
func Format(amount float64, code string, places int) string {
	return currency.FormatGrouped(amount, clampPlaces(places), ",") + " " + strings.ToUpper(code)
}

// RateLabel describes the rate used for a result: "1 USD = 7.1234 CNY".
func RateLabel(r *Result) string {
	return fmt.Sprintf("1 %s = %.4f %s", r.OriginalCurrency, r.Rate, r.TargetCurrency)
}

func clampPlaces(p int) int {
	if p < 0 {
		return 0
	}
	if p > maxDecimalPlaces {
		return maxDecimalPlaces
	}
	return p
}
