package sites

import (
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Profile describes how prices render on a known shop.
type Profile struct {
	Name string
	// Selectors are tried before the generic ones, most specific first.
	Selectors []string
	// Delays are post-load rescans for pages that render prices late.
	Delays []time.Duration
}

// GenericSelectors is the fallback list used on every page.
var GenericSelectors = []string{
	"[class*=price]",
	"[class*=Price]",
	"[id*=price]",
	"[id*=Price]",
	"[class*=amount]",
	"[class*=cost]",
	"[data-price]",
	".a-price",
	".money",
}

// profiles is keyed by the registrable domain label (the part before the
// public suffix), so amazon.co.uk and amazon.de share a profile.
var profiles = map[string]Profile{
	"jd": {
		Name:      "jd",
		Selectors: []string{".p-price", ".price", "[class*=J-p-]", ".summary-price"},
		Delays:    []time.Duration{time.Second, 3 * time.Second, 6 * time.Second},
	},
	"taobao": {
		Name:      "taobao",
		Selectors: []string{".tb-rmb-num", "[class*=priceInt]", "[class*=Price--]", ".price"},
		Delays:    []time.Duration{time.Second, 3 * time.Second, 6 * time.Second},
	},
	"tmall": {
		Name:      "tmall",
		Selectors: []string{".tm-price", "[class*=priceInt]", "[class*=Price--]"},
		Delays:    []time.Duration{time.Second, 3 * time.Second, 6 * time.Second},
	},
	"amazon": {
		Name:      "amazon",
		Selectors: []string{".a-price .a-offscreen", ".a-price", "#priceblock_ourprice", "#corePrice_feature_div"},
		Delays:    []time.Duration{2 * time.Second},
	},
	"ebay": {
		Name:      "ebay",
		Selectors: []string{".x-price-primary", ".s-item__price", "[itemprop=price]"},
		Delays:    []time.Duration{2 * time.Second},
	},
	"aliexpress": {
		Name:      "aliexpress",
		Selectors: []string{"[class*=price--current]", "[class*=Price_price]", ".product-price-value"},
		Delays:    []time.Duration{5 * time.Second},
	},
}

// Lookup returns the profile for host, or a zero Profile for unknown sites.
func Lookup(host string) Profile {
	if p, ok := profiles[siteLabel(host)]; ok {
		return p
	}
	return Profile{}
}

// Selectors returns the site selectors for host followed by the generic ones.
func Selectors(host string) []string {
	p := Lookup(host)
	out := make([]string, 0, len(p.Selectors)+len(GenericSelectors))
	out = append(out, p.Selectors...)
	return append(out, GenericSelectors...)
}

// RegistrableDomain returns the eTLD+1 of host ("www.jd.com" → "jd.com").
// Hosts without a known suffix are returned lower-cased and unchanged.
func RegistrableDomain(host string) string {
	host = normalizeHost(host)
	if host == "" {
		return ""
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

func siteLabel(host string) string {
	d := RegistrableDomain(host)
	label, _, _ := strings.Cut(d, ".")
	return label
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return strings.TrimSuffix(host, ".")
}
