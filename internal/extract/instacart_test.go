package extract

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"splitmybill/internal/receipt"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// instacartFixture mirrors the table layout of an Instacart order page: an
// adjustments table with a weight adjusted item, a replacement and a refund,
// a delivered items table and a charges table.
const instacartFixture = `<html>
<body>
<table class="items adjustments">
  <tbody>
    <tr><td>
      <div class="item-block">
        <div class="item-wanted">
          <div class="item-name">Fuji Apples
            <div class="muted">Adjustment 1.36 kg to 1.2 kg</div>
          </div>
        </div>
        <div class="muted">weight adjustment</div>
        <div class="item-delivered">
          <div class="item-price">
            <div class="total strike">$6.80</div>
            <div class="total">$6.00</div>
          </div>
        </div>
      </div>
      <div class="item-block">
        <div class="item-wanted">
          <div class="item-name">Diet Coke 12 Pack
            <div class="muted">1 x</div>
          </div>
        </div>
        <div class="item-delivered">
          <div class="item-name">Coke Zero 12 Pack</div>
          <div class="item-price">
            <div class="total">$8.49</div>
          </div>
        </div>
      </div>
      <div class="item-block">
        <div class="item-name">Lime Sparkling Water
          <div class="muted">1 x</div>
        </div>
        <div class="muted">Refunded amount</div>
        <div class="item-price">
          <div class="total">$4.29</div>
        </div>
      </div>
    </td></tr>
  </tbody>
</table>
<table class="items delivered">
  <tbody>
    <tr><td>
      <div class="item-block">
        <div class="item-name">Whole Milk 2L
          <div class="muted">2 x</div>
        </div>
        <div class="item-price">
          <div class="total">$7.98</div>
        </div>
      </div>
      <div class="item-block">
        <div class="item-name">Chicken Breast
          <div class="muted">0.74 kg x</div>
        </div>
        <div class="item-price">
          <div class="total strike">$9.50</div>
          <div class="total">$8.88</div>
        </div>
      </div>
    </td></tr>
  </tbody>
</table>
<table class="charges">
  <tbody>
    <tr><td class="charge-type">Items Subtotal</td><td class="amount">$31.35</td></tr>
    <tr><td class="charge-type">Instacart+ Member Free Delivery!</td><td class="amount">$0.00</td></tr>
    <tr><td class="charge-type">Service Fee</td><td class="amount">$1.50</td></tr>
    <tr><td class="charge-type">GST/HST</td><td class="amount">$0.94</td></tr>
    <tr><td class="charge-type">Total CAD</td><td class="amount">$33.79</td></tr>
  </tbody>
</table>
</body>
</html>`

var _ = Describe("IsInstacartHTML", func() {
	It("accepts a full order page", func() {
		Expect(IsInstacartHTML([]byte(instacartFixture))).To(BeTrue())
	})

	It("accepts a page without an adjustments table", func() {
		html := strings.Replace(instacartFixture, `class="items adjustments"`, `class="other"`, 1)
		Expect(IsInstacartHTML([]byte(html))).To(BeTrue())
	})

	It("rejects unrelated HTML", func() {
		Expect(IsInstacartHTML([]byte("<html><body>hello</body></html>"))).To(BeFalse())
	})
})

var _ = Describe("Instacart", func() {
	var (
		html string
		r    *receipt.Receipt
		err  error
	)

	BeforeEach(func() {
		html = instacartFixture
	})

	JustBeforeEach(func() {
		r, err = NewInstacart([]byte(html)).Extract(context.Background())
	})

	It("parses adjusted items before delivered items", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Items).To(HaveLen(4))
	})

	It("uses the delivered weight for weight adjusted items", func() {
		item := r.Items[0]
		Expect(item.Name).To(Equal("REPLACED:Fuji Apples (1.36)->Fuji Apples (1.2)"))
		Expect(item.Quantity.Equal(dec("1.2"))).To(BeTrue())
		Expect(item.Subtotal.Equal(dec("6.00"))).To(BeTrue())
		Expect(item.Metadata).To(HaveKeyWithValue("weight_unit", "kg"))
	})

	It("keeps both names for replaced items", func() {
		item := r.Items[1]
		Expect(item.Name).To(Equal("REPLACED:Diet Coke 12 Pack->Coke Zero 12 Pack"))
		Expect(item.Quantity.Equal(dec("1"))).To(BeTrue())
		Expect(item.Subtotal.Equal(dec("8.49"))).To(BeTrue())
	})

	It("skips refunded items", func() {
		for _, item := range r.Items {
			Expect(item.Name).NotTo(ContainSubstring("Lime Sparkling Water"))
		}
	})

	It("parses delivered items with their counts", func() {
		item := r.Items[2]
		Expect(item.Name).To(Equal("Whole Milk 2L"))
		Expect(item.Quantity.Equal(dec("2"))).To(BeTrue())
		Expect(item.Subtotal.Equal(dec("7.98"))).To(BeTrue())
		Expect(item.Metadata).To(BeEmpty())
	})

	It("tags weighed goods and skips struck out prices", func() {
		item := r.Items[3]
		Expect(item.Name).To(Equal("Chicken Breast"))
		Expect(item.Quantity.Equal(dec("0.74"))).To(BeTrue())
		Expect(item.Subtotal.Equal(dec("8.88"))).To(BeTrue())
		Expect(item.Metadata).To(HaveKeyWithValue("weight_unit", "kg"))
	})

	It("splits charges into subtotal, total and taxes", func() {
		Expect(r.Subtotal.Equal(dec("31.35"))).To(BeTrue())
		Expect(r.Total.Equal(dec("33.79"))).To(BeTrue())

		Expect(r.Taxes).To(HaveLen(2))
		Expect(r.Taxes[0].Name).To(Equal("Service Fee"))
		Expect(r.Taxes[0].Total.Equal(dec("1.50"))).To(BeTrue())
		Expect(r.Taxes[1].Name).To(Equal("GST/HST"))
		Expect(r.Taxes[1].Total.Equal(dec("0.94"))).To(BeTrue())
	})

	When("the order page has no adjustments table", func() {
		BeforeEach(func() {
			html = strings.Replace(html, `class="items adjustments"`, `class="other"`, 1)
		})

		It("parses the delivered items only", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Items).To(HaveLen(2))
			Expect(r.Items[0].Name).To(Equal("Whole Milk 2L"))
		})
	})

	When("the delivered items table is missing", func() {
		BeforeEach(func() {
			html = strings.Replace(html, `class="items delivered"`, `class="other"`, 1)
		})

		It("returns an extraction error naming the adapter", func() {
			var exErr *Error
			Expect(errors.As(err, &exErr)).To(BeTrue())
			Expect(exErr.Source).To(Equal(KindInstacart))
			Expect(err.Error()).To(ContainSubstring("missing delivered items table"))
		})
	})

	When("the charges table is missing", func() {
		BeforeEach(func() {
			html = strings.Replace(html, `class="charges"`, `class="other"`, 1)
		})

		It("returns an extraction error", func() {
			Expect(err).To(MatchError(ContainSubstring("missing charges table")))
		})
	})
})
