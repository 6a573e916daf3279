package scanning

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// DefaultJPEGQuality matches the compression the mobile client applied before upload
const DefaultJPEGQuality = 80

// pdfFirstPage renders the first page of a PDF
func pdfFirstPage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Receipts are single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// decodeImage decodes JPEG, PNG, GIF, HEIC/HEIF and PDF input
func decodeImage(data []byte) (image.Image, error) {
	switch {
	case isPDF(data):
		return pdfFirstPage(data)
	case isHEICFormat(data):
		// Go's standard image package doesn't support HEIC
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
		return img, nil
	}
}

// isPDF sniffs the PDF signature
func isPDF(data []byte) bool {
	return http.DetectContentType(data) == "application/pdf"
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files carry an ftyp box at offset 4 with a HEIF family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// flatten draws img onto an opaque white canvas so transparent PNG/GIF
// regions don't turn black in the JPEG
func flatten(img image.Image) image.Image {
	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Over)
	return canvas
}

// prepareJPEG validates the upload and re-encodes it as a JPEG at the given
// quality. Every failure is a KindInvalidImage error.
func prepareJPEG(data []byte, quality int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errorf(KindInvalidImage, "image is empty")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	img, err := decodeImage(data)
	if err != nil {
		return nil, newError(KindInvalidImage, "", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, errorf(KindInvalidImage, "image has no pixels")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: quality}); err != nil {
		return nil, newError(KindInvalidImage, "encoding JPEG", err)
	}
	return buf.Bytes(), nil
}
