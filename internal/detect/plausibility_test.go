package detect

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("IsValidPrice", func() {
	DescribeTable("judging amounts in context",
		func(amount float64, context string, expected bool) {
			Expect(IsValidPrice(amount, context)).To(Equal(expected))
		},
		Entry("ordinary price", 99.99, "Price: $99.99", true),
		Entry("below range", 0.001, "$0.001", false),
		Entry("above range", 1000000.0, "$1,000,000", false),
		Entry("upper bound", 999999.0, "$999,999", true),
		Entry("purchase count", 200.0, "200+人购买", false),
		Entry("count in ten-thousands", 3.0, "3万+人付款", false),
		Entry("english purchase count", 150.0, "150 people bought this", false),
		Entry("price next to a count", 59.0, "¥59 200+人购买", true),
		Entry("pure gold purity code", 9999.0, "足金 9999", false),
		Entry("gold weight multiple", 5000.0, "黄金 5000 足金", false),
		Entry("karat vocabulary", 12000.0, "18 karat gold ring 12000", false),
		Entry("high price with symbol and count", 33601.0, "¥33601 99人购买", false),
		Entry("high plain price", 12000.0, "$12,000 laptop", true),
		Entry("australian dollars are not gold", 3000.0, "AUD 3,000", true),
		Entry("repeated digits without a marker", 8888.0, "model 8888", false),
		Entry("repeated digits with a price word", 8888.0, "价格 8888", true),
		Entry("repeated digits with a symbol", 8888.0, "$8888", true),
		Entry("repeated digits with a code", 1111.0, "1111 CHF", true),
	)
})

var _ = Describe("CleanAmount", func() {
	var (
		amount   float64
		text     string
		numStart int
		cleaned  float64
	)

	JustBeforeEach(func() {
		cleaned = CleanAmount(amount, text, numStart)
	})

	When("a count tail is fused onto the price", func() {
		BeforeEach(func() {
			amount = 33601
			text = "¥33601万+人购买"
			numStart = strings.Index(text, "3")
		})

		It("strips the tail", func() {
			Expect(cleaned).To(Equal(336.0))
		})
	})

	When("no count unit follows", func() {
		BeforeEach(func() {
			amount = 33601
			text = "¥33601 sale"
			numStart = strings.Index(text, "3")
		})

		It("leaves the amount alone", func() {
			Expect(cleaned).To(Equal(33601.0))
		})
	})

	When("the offset is out of range", func() {
		BeforeEach(func() {
			amount = 10
			text = "¥10"
			numStart = 99
		})

		It("leaves the amount alone", func() {
			Expect(cleaned).To(Equal(10.0))
		})
	})
})

var _ = Describe("IsPurchaseCount", func() {
	DescribeTable("recognizing count-only text",
		func(text string, expected bool) {
			Expect(IsPurchaseCount(text)).To(Equal(expected))
		},
		Entry("chinese buyers", "200+人购买", true),
		Entry("ten-thousands of payers", " 1万+人付款 ", true),
		Entry("monthly sales", "月销 3000+", true),
		Entry("english sold", "1.2k sold", true),
		Entry("a price", "¥59", false),
		Entry("a price with a count", "¥59 200+人购买", false),
	)
})
