package settings

import (
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockBackend is an in-memory Backend.
type mockBackend struct {
	saved   *Settings
	getErr  error
	saveErr error
}

func (m *mockBackend) GetSettings() (Settings, error) {
	if m.getErr != nil {
		return Settings{}, m.getErr
	}
	if m.saved == nil {
		return Settings{}, ErrNotFound
	}
	return *m.saved, nil
}

func (m *mockBackend) SaveSettings(s Settings) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = &s
	return nil
}

var _ = Describe("Store", func() {
	var (
		backend *mockBackend
		store   *Store
	)

	BeforeEach(func() {
		backend = &mockBackend{}
		store = NewStore(backend, nil)
	})

	Describe("Load", func() {
		It("returns defaults when nothing is saved", func() {
			s, err := store.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(Equal(Defaults()))
		})

		It("returns saved settings", func() {
			saved := Defaults()
			saved.BaseCurrency = "EUR"
			backend.saved = &saved
			s, err := store.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(s.BaseCurrency).To(Equal("EUR"))
		})

		It("wraps backend errors", func() {
			backend.getErr = errors.New("disk gone")
			_, err := store.Load()
			Expect(err).To(MatchError(ContainSubstring("loading settings: disk gone")))
		})
	})

	Describe("Save", func() {
		var (
			calls int
			prev  Settings
			next  Settings
			unsub func()
		)

		BeforeEach(func() {
			calls = 0
			unsub = store.Subscribe(func(p, n Settings) {
				calls++
				prev, next = p, n
			})
		})

		It("persists, normalizes and notifies", func() {
			s := Defaults()
			s.BaseCurrency = "usd"
			saved, err := store.Save(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.BaseCurrency).To(Equal("USD"))
			Expect(backend.saved.BaseCurrency).To(Equal("USD"))
			Expect(calls).To(Equal(1))
			Expect(prev.BaseCurrency).To(Equal("CNY"))
			Expect(next.BaseCurrency).To(Equal("USD"))
		})

		It("rejects invalid settings without notifying", func() {
			s := Defaults()
			s.DecimalPlaces = -1
			_, err := store.Save(s)
			Expect(err).To(MatchError(ErrInvalid))
			Expect(calls).To(BeZero())
		})

		It("stops notifying after unsubscribe", func() {
			unsub()
			_, err := store.Save(Defaults())
			Expect(err).NotTo(HaveOccurred())
			Expect(calls).To(BeZero())
		})

		It("leaves the stored settings untouched when a decoded save is rejected", func() {
			s := Defaults()
			s.UseWhitelist = true
			s.EnabledSites = []string{"a.com", "b.com"}
			_, err := store.Save(s)
			Expect(err).NotTo(HaveOccurred())

			loaded, err := store.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(json.Unmarshal([]byte(`{"baseCurrency":"XXX","enabledSites":["evil.com","x.com"]}`), &loaded)).To(Succeed())
			_, err = store.Save(loaded)
			Expect(err).To(MatchError(ErrInvalid))

			current, err := store.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(current.EnabledSites).To(Equal([]string{"a.com", "b.com"}))
			Expect(current.SiteAllowed("a.com")).To(BeTrue())
			Expect(current.SiteAllowed("evil.com")).To(BeFalse())
			Expect(calls).To(Equal(1))
		})

		It("does not share site lists with callers", func() {
			s := Defaults()
			s.DisabledSites = []string{"a.com"}
			_, err := store.Save(s)
			Expect(err).NotTo(HaveOccurred())
			s.DisabledSites[0] = "b.com"

			loaded, err := store.Load()
			Expect(err).NotTo(HaveOccurred())
			loaded.DisabledSites[0] = "c.com"

			current, err := store.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(current.DisabledSites).To(Equal([]string{"a.com"}))
		})

		It("reports backend failures", func() {
			backend.saveErr = errors.New("read-only")
			_, err := store.Save(Defaults())
			Expect(err).To(MatchError(ContainSubstring("saving settings")))
			Expect(calls).To(BeZero())
		})
	})
})
