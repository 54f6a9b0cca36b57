package rates

import (
	"strings"
	"time"
)

// Table is an immutable snapshot of exchange rates relative to Base. Rates
// never holds Base itself.
type Table struct {
	Base        string             `json:"base"`
	Rates       map[string]float64 `json:"rates"`
	RetrievedAt time.Time          `json:"retrievedAt"`
}

// NewTable builds a Table, dropping the base entry and non-positive rates.
func NewTable(base string, rates map[string]float64, retrievedAt time.Time) Table {
	base = strings.ToUpper(base)
	clean := make(map[string]float64, len(rates))
	for code, r := range rates {
		code = strings.ToUpper(code)
		if code == base || r <= 0 {
			continue
		}
		clean[code] = r
	}
	return Table{Base: base, Rates: clean, RetrievedAt: retrievedAt}
}

// Rate returns the rate for code and whether it is present.
func (t Table) Rate(code string) (float64, bool) {
	r, ok := t.Rates[strings.ToUpper(code)]
	return r, ok && r > 0
}

// Fresh reports whether the table is younger than maxAge at now.
func (t Table) Fresh(now time.Time, maxAge time.Duration) bool {
	return !t.RetrievedAt.IsZero() && now.Sub(t.RetrievedAt) < maxAge
}
