package currency

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Supported ISO 4217 codes, in display order.
var supported = []string{
	"USD", "EUR", "GBP", "JPY", "CNY", "CAD", "AUD", "CHF",
	"HKD", "SGD", "KRW", "INR", "RUB", "BRL", "MXN", "ZAR",
}

var supportedSet = func() map[string]bool {
	m := make(map[string]bool, len(supported))
	for _, c := range supported {
		m[c] = true
	}
	return m
}()

// aliases maps symbols and localized words to ISO codes. The yen glyph "¥"
// is absent on purpose; it is resolved from context by NormalizeCode.
var aliases = map[string]string{
	"$":   "USD",
	"€":   "EUR",
	"£":   "GBP",
	"￥":   "CNY",
	"₹":   "INR",
	"₽":   "RUB",
	"₩":   "KRW",
	"C$":  "CAD",
	"A$":  "AUD",
	"HK$": "HKD",
	"S$":  "SGD",
	"R$":  "BRL",
	"R":   "ZAR",
	"RMB": "CNY",
	"元":   "CNY",
	"人民币": "CNY",
	"円":   "JPY",
	"日元":  "JPY",
}

// displaySymbols is the unambiguous symbol used when rendering an amount in
// symbol form. Codes without one are rendered with their ISO code.
var displaySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"CNY": "￥",
	"INR": "₹",
	"RUB": "₽",
	"KRW": "₩",
	"CAD": "C$",
	"AUD": "A$",
	"HKD": "HK$",
	"SGD": "S$",
	"BRL": "R$",
	"ZAR": "R",
}

// Window around an ambiguous symbol that is inspected for cues, in runes.
const (
	contextBefore = 20
	contextAfter  = 50
)

// Supported returns the supported ISO codes.
func Supported() []string {
	out := make([]string, len(supported))
	copy(out, supported)
	return out
}

// IsSupported reports whether code is a supported ISO code.
func IsSupported(code string) bool {
	return supportedSet[strings.ToUpper(code)]
}

// Symbol returns the display symbol for code and whether it has one.
func Symbol(code string) (string, bool) {
	s, ok := displaySymbols[strings.ToUpper(code)]
	return s, ok
}

// NormalizeCode maps a symbol, ISO code or localized alias to a supported ISO
// code. context and pos (a byte offset into context) are used to resolve the
// ambiguous "¥" glyph. Unknown input yields "".
func NormalizeCode(symbolOrCode, context string, pos int) string {
	s := strings.TrimSpace(symbolOrCode)
	if s == "" {
		return ""
	}
	if s == "¥" {
		return resolveYen(context, pos)
	}
	if code, ok := aliases[s]; ok {
		return code
	}
	if code, ok := aliases[strings.ToUpper(s)]; ok && isASCII(s) {
		return code
	}
	if up := strings.ToUpper(s); supportedSet[up] {
		return up
	}
	return ""
}

func resolveYen(context string, pos int) string {
	window := contextWindow(context, pos)
	upper := strings.ToUpper(window)

	switch {
	case hasChineseYuan(window), strings.Contains(window, "人民币"),
		strings.Contains(upper, "RMB"), strings.Contains(upper, "CNY"):
		return "CNY"
	case strings.Contains(window, "円"), strings.Contains(window, "日元"),
		strings.Contains(upper, "JPY"), hasKana(window):
		return "JPY"
	case hasHan(window):
		return "CNY"
	}
	return "CNY"
}

// contextWindow returns the runes in [pos-20, pos+50) where pos is a byte
// offset. Offsets outside the string are clamped.
func contextWindow(context string, pos int) string {
	if pos < 0 {
		pos = 0
	}
	if pos > len(context) {
		pos = len(context)
	}
	for pos > 0 && pos < len(context) && !utf8.RuneStart(context[pos]) {
		pos--
	}

	start := pos
	for i := 0; i < contextBefore && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(context[:start])
		start -= size
	}
	end := pos
	for i := 0; i < contextAfter && end < len(context); i++ {
		_, size := utf8.DecodeRuneInString(context[end:])
		end += size
	}
	return context[start:end]
}

// hasChineseYuan reports a 元 that is not part of 日元.
func hasChineseYuan(s string) bool {
	prev := rune(0)
	for _, r := range s {
		if r == '元' && prev != '日' {
			return true
		}
		prev = r
	}
	return false
}

func hasKana(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana) {
			return true
		}
	}
	return false
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
