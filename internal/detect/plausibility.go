package detect

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/zombor/fx-annotator/internal/currency"
)

const (
	minPrice = 0.01
	maxPrice = 999999
)

const (
	purchaseWords   = `(?:购买|付款|评价|已购|已付|已售|销量|成交)`
	purchaseEnglish = `(?i:\+?\s*(?:people|customers|buyers)\s+(?:bought|paid|purchased)|\+?\s*(?:sold|reviews|ratings|bought)\b)`
)

var (
	purchaseIdiom = regexp.MustCompile(`\d+\+?\s*[人+万千]+` + purchaseWords + `|\d+` + purchaseEnglish)
	purchaseInfo  = regexp.MustCompile(`\d+\s*[人+]+(?:购买|付款|评价)`)
	priceSymbol   = regexp.MustCompile(`[$¥￥€£₹₽₩]`)
	goldWords     = regexp.MustCompile(`黄金|足金|千足|纯度|K金|(?i:\bgold\b|\bkarats?\b|\bau(?:\d{3,4})?\b)`)
	numberToken   = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	priceMarker   = regexp.MustCompile(`价|元|[¥￥$€£₹₽₩]|C\$|A\$|HK\$|S\$|R\$|\bR\s?\d|(?i:\bprice\b|\b(?:` + isoList + `)\b)`)
	fusedCount    = regexp.MustCompile(`^\d+(\d{2})[万千+人]`)

	// pureCount is an element whose whole text is a purchase or sales count.
	pureCount = regexp.MustCompile(`^(?:\d+(?:[.,]\d+)?[万千]?\+?\s*[人+]*\s*` + purchaseWords + `|(?:已售|销量|月销|成交)\s*\d+(?:[.,]\d+)?[万千]?\+?\s*[件笔单]?|\d+(?:[.,]\d+)?[kK]?` + purchaseEnglish + `)$`)
)

var purityCodes = map[string]bool{"9999": true, "999": true, "990": true, "916": true}

// IsValidPrice reports whether amount, found inside context, is plausibly a
// price rather than a count, a purity marking or a product code.
func IsValidPrice(amount float64, context string) bool {
	if amount < minPrice || amount > maxPrice {
		return false
	}

	literal := strconv.FormatFloat(amount, 'f', -1, 64)

	if purchaseIdiom.MatchString(context) && amountInPurchaseIdiom(literal, context) {
		return false
	}

	if amount > 10000 {
		if priceSymbol.MatchString(context) && purchaseInfo.MatchString(context) {
			return false
		}
		if hasGoldVocabulary(context) {
			return false
		}
	}

	if amount >= 1000 && math.Mod(amount, 1000) == 0 && hasGoldVocabulary(context) {
		return false
	}

	if isRepeatedDigits(literal) && !priceMarker.MatchString(context) {
		return false
	}

	return true
}

// IsPurchaseCount reports whether text, trimmed, is nothing but a purchase or
// sales count such as "200+人购买" or "1.2k sold".
func IsPurchaseCount(text string) bool {
	return pureCount.MatchString(strings.TrimSpace(text))
}

// CleanAmount repairs a price fused with a following count figure. When the
// digits at numStart are followed by a two digit tail and a count unit
// (万, 千, + or 人), and the amount ends with that tail, the tail is
// dropped: "¥33601万+人购买" is ¥336 next to "01万+人购买".
func CleanAmount(amount float64, text string, numStart int) float64 {
	if numStart < 0 || numStart > len(text) {
		return amount
	}
	m := fusedCount.FindStringSubmatch(text[numStart:])
	if m == nil {
		return amount
	}

	literal := strconv.FormatFloat(amount, 'f', -1, 64)
	suffix := m[1]
	if !strings.HasSuffix(literal, suffix) || len(literal) <= len(suffix) {
		return amount
	}
	if cleaned := currency.ParseAmount(strings.TrimSuffix(literal, suffix)); cleaned > 0 {
		return cleaned
	}
	return amount
}

func amountInPurchaseIdiom(literal, context string) bool {
	re, err := regexp.Compile(`(?:^|[^\d.,])` + regexp.QuoteMeta(literal) +
		`(?:\+?\s*[人+万千]+` + purchaseWords + `|` + purchaseEnglish + `)`)
	if err != nil {
		return false
	}
	return re.MatchString(context)
}

func hasGoldVocabulary(context string) bool {
	if goldWords.MatchString(context) {
		return true
	}
	for _, tok := range numberToken.FindAllString(context, -1) {
		if purityCodes[tok] {
			return true
		}
	}
	return false
}

func isRepeatedDigits(literal string) bool {
	if len(literal) != 4 {
		return false
	}
	for i := 1; i < len(literal); i++ {
		if literal[i] != literal[0] {
			return false
		}
	}
	return true
}
