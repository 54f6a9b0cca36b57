package sites

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RegistrableDomain", func() {
	DescribeTable("reducing hosts",
		func(host, expected string) {
			Expect(RegistrableDomain(host)).To(Equal(expected))
		},
		Entry("subdomain", "item.jd.com", "jd.com"),
		Entry("country suffix", "www.amazon.co.uk", "amazon.co.uk"),
		Entry("port and case", "WWW.EBAY.DE:443", "ebay.de"),
		Entry("trailing dot", "shop.example.com.", "example.com"),
		Entry("bare suffix", "com", "com"),
		Entry("empty", "", ""),
	)
})

var _ = Describe("Lookup", func() {
	It("finds profiles across country domains", func() {
		Expect(Lookup("www.amazon.de").Name).To(Equal("amazon"))
		Expect(Lookup("smile.amazon.com").Name).To(Equal("amazon"))
	})

	It("carries post-load delays", func() {
		Expect(Lookup("detail.tmall.com").Delays).To(ContainElement(3 * time.Second))
	})

	It("returns a zero profile for unknown hosts", func() {
		Expect(Lookup("example.org").Name).To(BeEmpty())
	})
})

var _ = Describe("Selectors", func() {
	It("puts site selectors before the generic ones", func() {
		sels := Selectors("item.jd.com")
		Expect(sels[0]).To(Equal(".p-price"))
		Expect(sels).To(ContainElement("[class*=price]"))
	})

	It("falls back to the generic list", func() {
		Expect(Selectors("example.org")).To(Equal(GenericSelectors))
	})
})
