package convert

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/fx-annotator/internal/rates"
)

var _ = Describe("Converter", func() {
	var (
		converter *Converter
		opts      Options
		table     rates.Table
		amount    float64
		from, to  string
		decimals  int
		result    *Result
		err       error
	)

	BeforeEach(func() {
		opts = Options{}
		table = rates.NewTable("EUR", map[string]float64{"CNY": 7.8, "USD": 1.1}, time.Now())
		amount = 10
		decimals = 2
	})

	JustBeforeEach(func() {
		converter = New(opts)
		result, err = converter.Convert(amount, from, to, table, decimals)
	})

	When("converting from the base currency", func() {
		BeforeEach(func() {
			from, to = "EUR", "CNY"
		})

		It("uses the target rate", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Rate).To(Equal(7.8))
			Expect(result.ConvertedAmount).To(Equal(78.0))
			Expect(result.Formatted).To(Equal("78.00 CNY"))
		})
	})

	When("converting into the base currency", func() {
		BeforeEach(func() {
			from, to = "CNY", "EUR"
		})

		It("inverts the source rate", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Rate).To(BeNumerically("~", 1/7.8, 1e-12))
			Expect(result.ConvertedAmount).To(Equal(1.28))
			Expect(result.Formatted).To(Equal("1.28 EUR"))
		})
	})

	When("converting between two non-base currencies", func() {
		BeforeEach(func() {
			from, to = "CNY", "USD"
		})

		It("uses the cross rate", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Rate).To(BeNumerically("~", 1.1/7.8, 1e-12))
			Expect(result.ConvertedAmount).To(Equal(1.41))
		})

		It("keeps the rate consistent with the converted amount", func() {
			Expect(result.ConvertedAmount / result.OriginalAmount).To(BeNumerically("~", result.Rate, 0.001))
		})
	})

	When("a rate is missing", func() {
		BeforeEach(func() {
			from, to = "GBP", "CNY"
		})

		It("returns ErrRateUnavailable", func() {
			Expect(err).To(MatchError(ErrRateUnavailable))
			Expect(result).To(BeNil())
		})
	})

	When("a rate is zero", func() {
		BeforeEach(func() {
			table = rates.Table{Base: "EUR", Rates: map[string]float64{"CNY": 0}}
			from, to = "EUR", "CNY"
		})

		It("returns ErrRateUnavailable", func() {
			Expect(err).To(MatchError(ErrRateUnavailable))
		})
	})

	When("the result overflows", func() {
		BeforeEach(func() {
			amount = math.MaxFloat64
			from, to = "EUR", "CNY"
		})

		It("returns ErrNonFinite", func() {
			Expect(err).To(MatchError(ErrNonFinite))
		})
	})

	Describe("same currency", func() {
		BeforeEach(func() {
			from, to = "USD", "usd"
		})

		When("the policy is skip", func() {
			It("returns ErrSameCurrency", func() {
				Expect(err).To(MatchError(ErrSameCurrency))
				Expect(result).To(BeNil())
			})
		})

		When("the policy is identity", func() {
			BeforeEach(func() {
				opts.SameCurrency = SameCurrencyIdentity
			})

			It("returns the amount at rate 1", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Rate).To(Equal(1.0))
				Expect(result.ConvertedAmount).To(Equal(10.0))
				Expect(result.Formatted).To(Equal("10.00 USD"))
			})
		})
	})

	Describe("decimal places", func() {
		BeforeEach(func() {
			from, to = "EUR", "CNY"
			amount = 1234.5678
		})

		When("the caller asks for no decimals", func() {
			BeforeEach(func() {
				decimals = 0
			})

			It("honors the setting", func() {
				Expect(result.Formatted).To(Equal("9,630 CNY"))
			})
		})

		When("a minimum is configured", func() {
			BeforeEach(func() {
				decimals = 0
				opts.MinDecimalPlaces = 2
			})

			It("applies the floor", func() {
				Expect(result.Formatted).To(Equal("9,629.63 CNY"))
			})
		})

		When("too many places are requested", func() {
			BeforeEach(func() {
				decimals = 20
			})

			It("clamps the places", func() {
				Expect(result.Formatted).To(Equal("9,629.62884000 CNY"))
			})
		})
	})
})

var _ = Describe("RateLabel", func() {
	It("describes the rate with four decimals", func() {
		r := &Result{OriginalCurrency: "USD", TargetCurrency: "CNY", Rate: 7.123456}
		Expect(RateLabel(r)).To(Equal("1 USD = 7.1235 CNY"))
	})
})

var _ = Describe("Format", func() {
	It("groups thousands and appends the code", func() {
		Expect(Format(1234567.891, "jpy", 2)).To(Equal("1,234,567.89 JPY"))
	})
})
