package extract

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"splitmybill/internal/llm"
	"splitmybill/internal/receipt"
)

// stubOracle is a mock implementation of llm.Provider that records the last
// request and returns a canned response.
type stubOracle struct {
	raw []byte
	err error

	transcript llm.Transcript
	schema     map[string]any
}

func (s *stubOracle) Complete(_ context.Context, transcript llm.Transcript, schema map[string]any) ([]byte, error) {
	s.transcript = transcript
	s.schema = schema
	if s.err != nil {
		return nil, s.err
	}
	return s.raw, nil
}

func (s *stubOracle) Close() error { return nil }

var _ = Describe("Vision", func() {
	var (
		oracle *stubOracle
		data   []byte
		mime   string
		r      *receipt.Receipt
		err    error
	)

	BeforeEach(func() {
		data = pngBytes()
		mime = "image/png"
		oracle = &stubOracle{raw: []byte(`{
			"items": [{"name": "Apples", "quantity": "2", "unit_price": "5.00", "subtotal": "10.00"}],
			"taxes_and_fees": [{"name": "Sales Tax", "rate": 10, "total": "1.00"}],
			"subtotal": "10.00",
			"total": "11.00"
		}`)}
	})

	JustBeforeEach(func() {
		r, err = NewVision(data, mime, oracle).Extract(context.Background())
	})

	It("decodes the oracle response into a receipt", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Items).To(HaveLen(1))
		Expect(r.Items[0].Name).To(Equal("Apples"))
		Expect(r.Items[0].Subtotal.Equal(dec("10.00"))).To(BeTrue())
		Expect(r.Taxes).To(HaveLen(1))
		Expect(r.Total.Equal(dec("11.00"))).To(BeTrue())
	})

	It("sends the image inside a two turn transcript", func() {
		Expect(oracle.transcript).To(HaveLen(2))

		Expect(oracle.transcript[0].Role).To(Equal(llm.RoleSystem))
		Expect(oracle.transcript[0].Text).To(ContainSubstring("convert images to receipts"))

		last := oracle.transcript[1]
		Expect(last.Role).To(Equal(llm.RoleHuman))
		Expect(last.Text).To(Equal("Receipt Image:"))
		Expect(last.Image).NotTo(BeNil())
		Expect(last.Image.MIME).To(Equal("image/png"))
	})

	It("requests the receipt schema", func() {
		props := oracle.schema["properties"].(map[string]any)
		Expect(props).To(HaveKey("items"))
		Expect(props).To(HaveKey("taxes_and_fees"))
	})

	When("the image is a JPEG", func() {
		BeforeEach(func() {
			data = jpegBytes()
			mime = "image/jpeg"
		})

		It("converts it to PNG before sending", func() {
			Expect(err).NotTo(HaveOccurred())

			img := oracle.transcript[1].Image
			Expect(img.MIME).To(Equal("image/png"))
			Expect(img.Data[:8]).To(Equal([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}))
		})
	})

	When("the oracle fails", func() {
		BeforeEach(func() {
			oracle = &stubOracle{err: errors.New("no valid oracle response after 3 attempts: boom")}
		})

		It("wraps the failure as a vision extraction error", func() {
			var exErr *Error
			Expect(errors.As(err, &exErr)).To(BeTrue())
			Expect(exErr.Source).To(Equal(KindVision))
			Expect(r).To(BeNil())
		})
	})

	When("the oracle returns JSON that is not a receipt", func() {
		BeforeEach(func() {
			oracle = &stubOracle{raw: []byte(`{"items": "not an array"}`)}
		})

		It("returns the decode error", func() {
			Expect(err).To(MatchError(ContainSubstring("unmarshaling receipt")))
		})
	})

	When("the image bytes are not a decodable image", func() {
		BeforeEach(func() {
			data = []byte("definitely not an image")
			mime = "image/jpeg"
		})

		It("fails before calling the oracle", func() {
			Expect(err).To(HaveOccurred())
			Expect(oracle.transcript).To(BeNil())
		})
	})
})
