package detect

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// candidate is the uniform record every matcher returns. Offsets are byte
// offsets into the scanned text.
type candidate struct {
	start    int
	end      int
	numStart int
	literal  string
	symbol   string
	currency string // pre-resolved; empty means normalize symbol
	clean    bool   // run CleanAmount before plausibility
	yenForm  bool
}

// matcher is one lexical currency format.
type matcher struct {
	name       string
	confidence float64
	find       func(text string) []candidate
}

const (
	space   = `[\s\x{00A0}\x{2009}\x{202F}\x{3000}]`
	number  = `\d+(?:[,\s\x{00A0}\x{2009}\x{202F}]\d{3})*(?:\.\d+)?`
	isoList = `USD|EUR|GBP|JPY|CNY|CAD|AUD|CHF|HKD|SGD|KRW|INR|RUB|BRL|MXN|ZAR|RMB`
)

var (
	isoAfterPattern  = regexp.MustCompile(`(?i)(?:^|[^\d])(` + number + `)` + space + `+(` + isoList + `)\b`)
	isoBeforePattern = regexp.MustCompile(`(?i)\b(` + isoList + `)` + space + `+(` + number + `)`)
	localizedPattern = regexp.MustCompile(`([¥￥])` + space + `*(` + number + `)|(` + number + `)` + space + `*(元|人民币|RMB)`)
)

// Symbols in alternation order. Single glyphs first, then the prefixed
// dollars, then the bare rand.
var symbolTokens = []string{
	"¥", "￥", "$", "€", "£", "₹", "₽", "₩",
	"C$", "A$", "HK$", "S$", "R$", "R",
}

func defaultMatchers() []matcher {
	return []matcher{
		{name: "symbol", confidence: 0.9, find: matchSymbols},
		{name: "iso_after", confidence: 0.95, find: matchISOAfter},
		{name: "iso_before", confidence: 0.95, find: matchISOBefore},
		{name: "localized", confidence: 0.95, find: matchLocalized},
	}
}

// matchSymbols finds symbol-prefixed amounts. A symbol preceded by an ASCII
// letter is ignored so "USD100" or "US$5" are not split.
func matchSymbols(text string) []candidate {
	var out []candidate
	for i := 0; i < len(text); {
		c, ok := symbolAt(text, i)
		if ok {
			out = append(out, c)
			i = c.end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return out
}

func symbolAt(text string, i int) (candidate, bool) {
	if i > 0 && isASCIILetter(text[i-1]) {
		return candidate{}, false
	}
	for _, sym := range symbolTokens {
		if len(text)-i < len(sym) || text[i:i+len(sym)] != sym {
			continue
		}
		numStart := skipSpaces(text, i+len(sym))
		end, ok := symbolNumberEnd(text, numStart)
		if !ok {
			continue
		}
		return candidate{
			start:    i,
			end:      end,
			numStart: numStart,
			literal:  text[numStart:end],
			symbol:   sym,
			clean:    true,
		}, true
	}
	return candidate{}, false
}

// symbolNumberEnd returns the end of the numeric literal that starts at p.
// Grouped literals (1-3 lead digits, ",ddd" groups) are tried before plain
// literals of up to six digits, each with 2, 1 or no decimals, longest
// first. The first literal that is not followed by more of a number wins.
func symbolNumberEnd(text string, p int) (int, bool) {
	n := digitRun(text, p)
	if n == 0 {
		return 0, false
	}

	for lead := min(3, n); lead >= 1; lead-- {
		ends := []int{p + lead}
		for q := p + lead; q < len(text) && text[q] == ',' && digitRun(text, q+1) >= 3; {
			q += 4
			ends = append(ends, q)
		}
		for g := len(ends) - 1; g >= 0; g-- {
			if end, ok := withDecimals(text, ends[g]); ok {
				return end, true
			}
		}
	}

	for l := min(6, n); l >= 1; l-- {
		if end, ok := withDecimals(text, p+l); ok {
			return end, true
		}
	}
	return 0, false
}

func withDecimals(text string, q int) (int, bool) {
	if q < len(text) && text[q] == '.' {
		d := digitRun(text, q+1)
		for k := min(2, d); k >= 1; k-- {
			if numberEnds(text, q+1+k) {
				return q + 1 + k, true
			}
		}
	}
	if numberEnds(text, q) {
		return q, true
	}
	return 0, false
}

// numberEnds reports whether a literal may stop at q: no digit follows, and
// no separator that is itself followed by a digit. Sentence punctuation such
// as "$10." or "$1,234.56, ..." is allowed.
func numberEnds(text string, q int) bool {
	if q >= len(text) {
		return true
	}
	if isDigit(text[q]) {
		return false
	}
	if (text[q] == ',' || text[q] == '.') && q+1 < len(text) && isDigit(text[q+1]) {
		return false
	}
	return true
}

func matchISOAfter(text string) []candidate {
	var out []candidate
	for _, m := range isoAfterPattern.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, candidate{
			start:    m[2],
			end:      m[1],
			numStart: m[2],
			literal:  text[m[2]:m[3]],
			symbol:   text[m[4]:m[5]],
		})
	}
	return out
}

func matchISOBefore(text string) []candidate {
	var out []candidate
	for _, m := range isoBeforePattern.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, candidate{
			start:    m[0],
			end:      m[1],
			numStart: m[4],
			literal:  text[m[4]:m[5]],
			symbol:   text[m[2]:m[3]],
		})
	}
	return out
}

// matchLocalized finds yuan amounts: a yen glyph before the number or a
// Chinese suffix after it. Both always mean CNY.
func matchLocalized(text string) []candidate {
	var out []candidate
	for _, m := range localizedPattern.FindAllStringSubmatchIndex(text, -1) {
		if m[2] >= 0 {
			out = append(out, candidate{
				start:    m[0],
				end:      m[1],
				numStart: m[4],
				literal:  text[m[4]:m[5]],
				symbol:   text[m[2]:m[3]],
				currency: "CNY",
				clean:    true,
				yenForm:  true,
			})
			continue
		}
		out = append(out, candidate{
			start:    m[6],
			end:      m[1],
			numStart: m[6],
			literal:  text[m[6]:m[7]],
			symbol:   text[m[8]:m[9]],
			currency: "CNY",
		})
	}
	return out
}

func skipSpaces(text string, i int) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}

func digitRun(text string, i int) int {
	n := 0
	for i+n < len(text) && isDigit(text[i+n]) {
		n++
	}
	return n
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
