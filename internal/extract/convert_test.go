package extract

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 120, A: 255})
		}
	}
	return img
}

func pngBytes() []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func jpegBytes() []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(), nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

var _ = Describe("prepareImageData", func() {
	It("passes PNG input through untouched", func() {
		input := pngBytes()

		data, mime, err := prepareImageData(input, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(mime).To(Equal("image/png"))
		Expect(data).To(Equal(input))
	})

	It("re-encodes JPEG input as PNG", func() {
		data, mime, err := prepareImageData(jpegBytes(), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())
		Expect(mime).To(Equal("image/png"))

		img, format, err := image.Decode(bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal("png"))
		Expect(img.Bounds()).To(Equal(image.Rect(0, 0, 4, 4)))
	})

	It("defaults an empty content type to JPEG", func() {
		_, mime, err := prepareImageData(jpegBytes(), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(mime).To(Equal("image/png"))
	})

	It("rejects bytes that are not an image", func() {
		_, _, err := prepareImageData([]byte("not an image"), "image/jpeg")
		Expect(err).To(MatchError(ContainSubstring("unsupported image format")))
	})
})

var _ = Describe("isHEICFormat", func() {
	heicHeader := func(brand string) []byte {
		header := []byte{0x00, 0x00, 0x00, 0x18}
		header = append(header, []byte("ftyp")...)
		return append(header, []byte(brand)...)
	}

	It("recognizes the HEIC container brands", func() {
		for _, brand := range []string{"heic", "heif", "mif1", "msf1"} {
			Expect(isHEICFormat(heicHeader(brand))).To(BeTrue(), "brand %s", brand)
		}
	})

	It("rejects other containers", func() {
		Expect(isHEICFormat(heicHeader("mp42"))).To(BeFalse())
		Expect(isHEICFormat(pngBytes())).To(BeFalse())
		Expect(isHEICFormat([]byte{0x00, 0x01})).To(BeFalse())
	})
})

var _ = Describe("isHEICMimeType", func() {
	It("matches HEIC and HEIF content types", func() {
		Expect(isHEICMimeType("image/heic")).To(BeTrue())
		Expect(isHEICMimeType(" IMAGE/HEIF ")).To(BeTrue())
		Expect(isHEICMimeType("image/heic-sequence")).To(BeTrue())
		Expect(isHEICMimeType("image/jpeg")).To(BeFalse())
	})
})
