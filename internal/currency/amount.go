package currency

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/leekchan/accounting"
	"github.com/shopspring/decimal"
)

var plainNumber = regexp.MustCompile(`^(?:\d+(?:\.\d*)?|\.\d+)$`)

// ParseAmount turns a numeric literal with optional grouping separators into
// a float. It returns 0 for anything that is not a positive finite number;
// callers treat 0 as "no amount".
func ParseAmount(text string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	if !plainNumber.MatchString(cleaned) {
		return 0
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Round rounds half away from zero to the given number of places.
func Round(amount float64, places int) decimal.Decimal {
	return decimal.NewFromFloat(amount).Round(int32(places))
}

// FormatGrouped renders amount with the given decimal places, using thousand
// as the grouping separator. An empty separator renders plain digits.
func FormatGrouped(amount float64, places int, thousand string) string {
	if places < 0 {
		places = 0
	}
	d := Round(amount, places)
	if thousand == "" {
		return d.StringFixed(int32(places))
	}
	ac := accounting.Accounting{Symbol: "", Precision: places, Thousand: thousand, Decimal: "."}
	return ac.FormatMoneyDecimal(d)
}
