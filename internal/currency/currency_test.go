package currency

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NormalizeCode", func() {
	var (
		symbol  string
		context string
		pos     int
		code    string
	)

	JustBeforeEach(func() {
		code = NormalizeCode(symbol, context, pos)
	})

	When("the symbol is unambiguous", func() {
		DescribeTable("mapping symbols and aliases",
			func(input, expected string) {
				Expect(NormalizeCode(input, "", 0)).To(Equal(expected))
			},
			Entry("dollar", "$", "USD"),
			Entry("euro", "€", "EUR"),
			Entry("pound", "£", "GBP"),
			Entry("fullwidth yen", "￥", "CNY"),
			Entry("rupee", "₹", "INR"),
			Entry("ruble", "₽", "RUB"),
			Entry("won", "₩", "KRW"),
			Entry("canadian dollar", "C$", "CAD"),
			Entry("australian dollar", "A$", "AUD"),
			Entry("hong kong dollar", "HK$", "HKD"),
			Entry("singapore dollar", "S$", "SGD"),
			Entry("real", "R$", "BRL"),
			Entry("rand", "R", "ZAR"),
			Entry("RMB alias", "RMB", "CNY"),
			Entry("lowercase rmb alias", "rmb", "CNY"),
			Entry("yuan suffix", "元", "CNY"),
			Entry("renminbi suffix", "人民币", "CNY"),
			Entry("yen suffix", "円", "JPY"),
		)
	})

	When("the input is already an ISO code", func() {
		It("returns supported codes unchanged", func() {
			for _, c := range Supported() {
				Expect(NormalizeCode(c, "", 0)).To(Equal(c))
			}
		})

		It("upper-cases lower-case codes", func() {
			Expect(NormalizeCode("eur", "", 0)).To(Equal("EUR"))
		})
	})

	When("the input is unknown", func() {
		BeforeEach(func() {
			symbol = "XYZ"
		})

		It("returns an empty code", func() {
			Expect(code).To(BeEmpty())
		})
	})

	Describe("resolving the yen glyph", func() {
		BeforeEach(func() {
			symbol = "¥"
		})

		When("the context has a yuan suffix", func() {
			BeforeEach(func() {
				context = "价格 ¥100 元"
				pos = strings.Index(context, "¥")
			})

			It("resolves to CNY", func() {
				Expect(code).To(Equal("CNY"))
			})
		})

		When("the context has a yen suffix", func() {
			BeforeEach(func() {
				context = "¥1000円"
				pos = 0
			})

			It("resolves to JPY", func() {
				Expect(code).To(Equal("JPY"))
			})
		})

		When("the context says 日元", func() {
			BeforeEach(func() {
				context = "¥500 日元"
				pos = 0
			})

			It("does not treat the 元 as a yuan cue", func() {
				Expect(code).To(Equal("JPY"))
			})
		})

		When("the context has kana", func() {
			BeforeEach(func() {
				context = "セール ¥1,980 税込"
				pos = strings.Index(context, "¥")
			})

			It("resolves to JPY", func() {
				Expect(code).To(Equal("JPY"))
			})
		})

		When("the context has only Chinese ideographs", func() {
			BeforeEach(func() {
				context = "到手价 ¥88"
				pos = strings.Index(context, "¥")
			})

			It("resolves to CNY", func() {
				Expect(code).To(Equal("CNY"))
			})
		})

		When("the cue lies outside the window", func() {
			BeforeEach(func() {
				context = "¥100" + strings.Repeat(" ", 60) + "円"
				pos = 0
			})

			It("falls back to CNY", func() {
				Expect(code).To(Equal("CNY"))
			})
		})

		When("the context is empty", func() {
			BeforeEach(func() {
				context = ""
				pos = 0
			})

			It("defaults to CNY", func() {
				Expect(code).To(Equal("CNY"))
			})
		})
	})
})

var _ = Describe("Symbol", func() {
	It("returns the display symbol for codes that have one", func() {
		s, ok := Symbol("HKD")
		Expect(ok).To(BeTrue())
		Expect(s).To(Equal("HK$"))
	})

	It("reports codes without a symbol", func() {
		_, ok := Symbol("CHF")
		Expect(ok).To(BeFalse())
	})
})
