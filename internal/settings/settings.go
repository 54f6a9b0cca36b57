package settings

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/zombor/fx-annotator/internal/currency"
	"github.com/zombor/fx-annotator/internal/sites"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid settings")

// Display formats for badges.
const (
	DisplayInline  = "inline"
	DisplayTooltip = "tooltip"
	DisplayReplace = "replace"
)

// Settings are the user's preferences.
type Settings struct {
	Enabled              bool     `json:"enabled"`
	BaseCurrency         string   `json:"baseCurrency"`
	DisplayFormat        string   `json:"displayFormat"`
	DecimalPlaces        int      `json:"decimalPlaces"`
	ShowOriginalCurrency bool     `json:"showOriginalCurrency"`
	ShowExchangeRate     bool     `json:"showExchangeRate"`
	Language             string   `json:"language"`
	EnabledSites         []string `json:"enabledSites"`
	DisabledSites        []string `json:"disabledSites"`
	UseWhitelist         bool     `json:"useWhitelist"`
	AutoUpdate           bool     `json:"autoUpdate"`
	// UpdateInterval is in minutes.
	UpdateInterval    int `json:"updateInterval"`
	MaxElementsToScan int `json:"maxElementsToScan"`
	// DebounceDelay is in milliseconds.
	DebounceDelay int `json:"debounceDelay"`
}

// Defaults returns the settings used before the user changes anything.
func Defaults() Settings {
	return Settings{
		Enabled:              true,
		BaseCurrency:         "CNY",
		DisplayFormat:        DisplayInline,
		DecimalPlaces:        2,
		ShowOriginalCurrency: true,
		ShowExchangeRate:     true,
		Language:             "zh",
		EnabledSites:         []string{},
		DisabledSites:        []string{},
		UseWhitelist:         false,
		AutoUpdate:           true,
		UpdateInterval:       60,
		MaxElementsToScan:    1000,
		DebounceDelay:        300,
	}
}

// Validate reports the first invalid field.
func (s Settings) Validate() error {
	if !currency.IsSupported(s.BaseCurrency) {
		return fmt.Errorf("%w: unsupported base currency %q", ErrInvalid, s.BaseCurrency)
	}
	if s.DecimalPlaces < 0 || s.DecimalPlaces > 8 {
		return fmt.Errorf("%w: decimal places must be between 0 and 8", ErrInvalid)
	}
	if s.MaxElementsToScan <= 0 {
		return fmt.Errorf("%w: max elements must be positive", ErrInvalid)
	}
	switch s.DisplayFormat {
	case DisplayInline, DisplayTooltip, DisplayReplace:
	default:
		return fmt.Errorf("%w: unknown display format %q", ErrInvalid, s.DisplayFormat)
	}
	if s.UpdateInterval < 0 || s.DebounceDelay < 0 {
		return fmt.Errorf("%w: intervals must not be negative", ErrInvalid)
	}
	return nil
}

// Clone returns a copy of s that shares no slices with it.
func (s Settings) Clone() Settings {
	s.EnabledSites = slices.Clone(s.EnabledSites)
	s.DisabledSites = slices.Clone(s.DisabledSites)
	return s
}

// Normalize upper-cases the base currency and reduces site lists to
// registrable domains.
func (s Settings) Normalize() Settings {
	s.BaseCurrency = strings.ToUpper(strings.TrimSpace(s.BaseCurrency))
	s.EnabledSites = normalizeSites(s.EnabledSites)
	s.DisabledSites = normalizeSites(s.DisabledSites)
	return s
}

func normalizeSites(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		d := sites.RegistrableDomain(h)
		if d == "" || slices.Contains(out, d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// SiteAllowed reports whether pages on host should be scanned.
func (s Settings) SiteAllowed(host string) bool {
	d := sites.RegistrableDomain(host)
	if s.UseWhitelist {
		return slices.Contains(normalizeSites(s.EnabledSites), d)
	}
	return !slices.Contains(normalizeSites(s.DisabledSites), d)
}

// UpdateEvery returns UpdateInterval as a duration.
func (s Settings) UpdateEvery() time.Duration {
	return time.Duration(s.UpdateInterval) * time.Minute
}

// Debounce returns DebounceDelay as a duration.
func (s Settings) Debounce() time.Duration {
	return time.Duration(s.DebounceDelay) * time.Millisecond
}

// NeedsRescan reports whether moving from old to s invalidates existing
// annotations: the extension was re-enabled or the currency or precision
// changed.
func (s Settings) NeedsRescan(old Settings) bool {
	if !s.Enabled {
		return false
	}
	return !old.Enabled ||
		s.BaseCurrency != old.BaseCurrency ||
		s.DecimalPlaces != old.DecimalPlaces
}
