package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/fx-annotator/internal/htmldoc"
	"github.com/zombor/fx-annotator/internal/rates"
	"github.com/zombor/fx-annotator/internal/settings"
)

type fakeRates struct {
	mu     sync.Mutex
	tables map[string]rates.Table
	err    error
	calls  []string
}

func (f *fakeRates) GetRates(ctx context.Context, base string) (rates.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, base)
	if f.err != nil {
		return rates.Response{}, f.err
	}
	t, ok := f.tables[base]
	if !ok {
		return rates.Response{}, rates.ErrRatesUnavailable
	}
	return rates.Response{Table: t}, nil
}

func (f *fakeRates) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeSettings struct {
	current settings.Settings
	err     error
}

func (f *fakeSettings) Load() (settings.Settings, error) {
	return f.current, f.err
}

func badges(html string) int {
	return strings.Count(html, `class="`+htmldoc.BadgeClass+`"`)
}

const pageHTML = `<html><body>
<div class="price">$100.00</div>
<div class="price">€50.00</div>
</body></html>`

var _ = Describe("Session", func() {
	var (
		provider *fakeRates
		store    *fakeSettings
		notices  []Notice
		host     string
		sess     *Session
		startErr error
	)

	current := func() string {
		out, err := sess.HTML()
		Expect(err).NotTo(HaveOccurred())
		return out
	}

	stats := func() Stats {
		st, err := sess.Stats()
		Expect(err).NotTo(HaveOccurred())
		return st
	}

	BeforeEach(func() {
		now := time.Now()
		provider = &fakeRates{tables: map[string]rates.Table{
			"CNY": rates.NewTable("CNY", map[string]float64{"USD": 0.14, "EUR": 0.125}, now),
			"USD": rates.NewTable("USD", map[string]float64{"CNY": 7.2, "EUR": 0.9}, now),
		}}
		s := settings.Defaults()
		s.DebounceDelay = 0
		store = &fakeSettings{current: s}
		notices = nil
		host = "shop.example.com"
	})

	JustBeforeEach(func() {
		doc, err := htmldoc.ParseString(pageHTML)
		Expect(err).NotTo(HaveOccurred())
		sess = New(doc, host, Deps{
			Rates:    provider,
			Settings: store,
			Notify:   func(n Notice) { notices = append(notices, n) },
			Delays: map[Kind]time.Duration{
				KindMutation: 10 * time.Millisecond,
				KindScroll:   30 * time.Millisecond,
			},
		})
		startErr = sess.Start(context.Background())
	})

	AfterEach(func() {
		sess.Close()
	})

	It("annotates prices on start", func() {
		Expect(startErr).NotTo(HaveOccurred())
		out := current()
		Expect(badges(out)).To(Equal(2))
		Expect(out).To(ContainSubstring("714.29 CNY"))
		Expect(out).To(ContainSubstring("400.00 CNY"))
		Expect(provider.Calls()).To(Equal([]string{"CNY"}))

		st := stats()
		Expect(st.Active).To(BeTrue())
		Expect(st.RatesReady).To(BeTrue())
		Expect(st.Scans).To(Equal(1))
		Expect(st.Annotated).To(Equal(2))
	})

	When("rates are unavailable", func() {
		BeforeEach(func() {
			provider.err = errors.New("offline")
		})

		It("sends one notice and leaves the page alone", func() {
			Expect(startErr).NotTo(HaveOccurred())
			Expect(notices).To(HaveLen(1))
			Expect(notices[0].Kind).To(Equal(NoticeRatesUnavailable))
			Expect(badges(current())).To(BeZero())

			sess.Trigger(KindVisibility)
			Expect(stats().RatesReady).To(BeFalse())
			Expect(stats().Scans).To(BeZero())
		})
	})

	When("settings cannot be loaded", func() {
		BeforeEach(func() {
			store.err = errors.New("disk gone")
		})

		It("returns the error", func() {
			Expect(startErr).To(MatchError(ContainSubstring("disk gone")))
		})
	})

	When("the site is disabled", func() {
		BeforeEach(func() {
			store.current.DisabledSites = []string{"example.com"}
		})

		It("neither fetches nor annotates", func() {
			Expect(provider.Calls()).To(BeEmpty())
			Expect(badges(current())).To(BeZero())
			Expect(stats().Active).To(BeFalse())
		})
	})

	Describe("triggers", func() {
		It("scans immediately on visibility", func() {
			sess.Trigger(KindVisibility)
			Expect(stats().Scans).To(Equal(2))
			Expect(badges(current())).To(Equal(2))
		})

		It("coalesces debounced triggers", func() {
			for range 5 {
				sess.Trigger(KindScroll)
			}
			Eventually(func() int { return stats().Scans }).Should(Equal(2))
			Consistently(func() int { return stats().Scans }, 150*time.Millisecond).Should(Equal(2))
		})

		It("annotates content added by a mutation", func() {
			err := sess.Mutate(func(doc *htmldoc.Document) error {
				return doc.AppendFragment(`<p class="price">€20.00</p>`)
			})
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int { return badges(current()) }).Should(Equal(3))
			Expect(current()).To(ContainSubstring("160.00 CNY"))
		})

		It("does not annotate a price twice", func() {
			sess.Trigger(KindVisibility)
			sess.Trigger(KindLoad)
			Expect(badges(current())).To(Equal(2))
		})

		It("reports mutation errors without scanning", func() {
			err := sess.Mutate(func(*htmldoc.Document) error { return errors.New("boom") })
			Expect(err).To(MatchError("boom"))
			Consistently(func() int { return stats().Scans }, 50*time.Millisecond).Should(Equal(1))
		})
	})

	Describe("OnSettingsChange", func() {
		var prev settings.Settings

		JustBeforeEach(func() {
			prev = store.current
		})

		It("removes every badge when disabled", func() {
			next := prev
			next.Enabled = false
			sess.OnSettingsChange(prev, next)

			Expect(badges(current())).To(BeZero())
			Expect(stats().Active).To(BeFalse())

			sess.Trigger(KindVisibility)
			Expect(badges(current())).To(BeZero())
		})

		It("rescans when re-enabled", func() {
			off := prev
			off.Enabled = false
			sess.OnSettingsChange(prev, off)
			sess.OnSettingsChange(off, prev)

			Expect(badges(current())).To(Equal(2))
			Expect(provider.Calls()).To(HaveLen(2))
		})

		It("refetches and rescans when the base currency changes", func() {
			next := prev
			next.BaseCurrency = "USD"
			sess.OnSettingsChange(prev, next)

			out := current()
			Expect(provider.Calls()).To(Equal([]string{"CNY", "USD"}))
			Expect(out).NotTo(ContainSubstring("CNY"))
			Expect(out).To(ContainSubstring("55.56 USD"))
			Expect(badges(out)).To(Equal(1))
		})

		It("rescans when the precision changes", func() {
			next := prev
			next.DecimalPlaces = 0
			sess.OnSettingsChange(prev, next)

			out := current()
			Expect(out).To(ContainSubstring("714 CNY"))
			Expect(out).NotTo(ContainSubstring("714.29"))
			Expect(badges(out)).To(Equal(2))
		})

		It("keeps annotations for other changes", func() {
			next := prev
			next.ShowExchangeRate = false
			sess.OnSettingsChange(prev, next)

			Expect(stats().Scans).To(Equal(1))
			Expect(badges(current())).To(Equal(2))
			Expect(provider.Calls()).To(HaveLen(1))
		})
	})

	Describe("Close", func() {
		It("stops the session", func() {
			sess.Close()
			_, err := sess.HTML()
			Expect(err).To(MatchError(ErrClosed))
			Expect(sess.Start(context.Background())).To(MatchError(ErrClosed))
			Expect(func() { sess.Trigger(KindVisibility) }).NotTo(Panic())
		})

		It("reports closed instead of empty stats", func() {
			sess.Close()
			st, err := sess.Stats()
			Expect(err).To(MatchError(ErrClosed))
			Expect(st).To(BeZero())
		})

		It("is safe to call twice", func() {
			sess.Close()
			Expect(sess.Close).NotTo(Panic())
		})
	})
})

var _ = Describe("ParseKind", func() {
	It("accepts known triggers", func() {
		k, err := ParseKind("scroll")
		Expect(err).NotTo(HaveOccurred())
		Expect(k).To(Equal(KindScroll))
	})

	It("rejects unknown triggers", func() {
		_, err := ParseKind("resize")
		Expect(err).To(HaveOccurred())
	})
})
