package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding
	"io"
	"net/http"

	"golang.org/x/image/draw"
)

// TargetSize is the width and height of stored photos.
const TargetSize = 500

// JPEGQuality is the compression quality for JPEG output.
const JPEGQuality = 85

// AllowedMIME lists the accepted input MIME types.
var AllowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// ProcessResult contains the processed image data.
type ProcessResult struct {
	Data []byte
	MIME string
}

// Process reads image data, validates the format by sniffing bytes,
// center-crops to a square and scales to TargetSize x TargetSize,
// and re-encodes with compression. Always outputs JPEG for consistency
// and smaller file sizes. A failure here fails the enclosing request.
func Process(r io.Reader) (*ProcessResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}

	// Sniff actual MIME type from bytes (not trusting client headers).
	detected := http.DetectContentType(data)
	if !AllowedMIME[detected] {
		return nil, fmt.Errorf("unsupported image format: %s (only JPEG and PNG accepted)", detected)
	}

	// Decode the image.
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	// Normalize to a fixed square.
	img = coverCrop(img, TargetSize)

	// Re-encode as JPEG.
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}

	return &ProcessResult{
		Data: buf.Bytes(),
		MIME: "image/jpeg",
	}, nil
}

// coverCrop scales the image so the shorter side matches size, then crops
// the centered size x size square. Uses high-quality Catmull-Rom
// interpolation. The output always has the exact target dimensions.
func coverCrop(img image.Image, size int) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w == 0 || h == 0 {
		return image.NewRGBA(image.Rect(0, 0, size, size))
	}

	// Source rectangle: the largest centered square.
	side := w
	if h < side {
		side = h
	}
	x0 := bounds.Min.X + (w-side)/2
	y0 := bounds.Min.Y + (h-side)/2
	src := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	return dst
}
