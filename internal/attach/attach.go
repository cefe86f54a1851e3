// Package attach prepares image attachments for transmission: images are
// decoded, downscaled to a maximum dimension, re-encoded as JPEG, and
// base64-encoded for embedding in a control message.
package attach

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"

	_ "image/gif"
	_ "image/png"
)

const (
	// DefaultMaxDimension bounds the longer image side after downscaling.
	DefaultMaxDimension = 1568

	// jpegQuality balances upload size against legibility of screenshots.
	jpegQuality = 85
)

// MediaTypeJPEG is the media type of every encoded attachment.
const MediaTypeJPEG = "image/jpeg"

// Image is an encoded attachment ready to send.
type Image struct {
	// Data is the base64-encoded JPEG payload.
	Data string

	// MediaType is always [MediaTypeJPEG] after encoding.
	MediaType string

	// Width and Height are the dimensions after downscaling.
	Width  int
	Height int
}

// EncodeFile reads and encodes the image at path. See [Encode].
func EncodeFile(path string, maxDimension int) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, fmt.Errorf("attach: open %q: %w", path, err)
	}
	defer f.Close()
	return Encode(f, maxDimension)
}

// Encode decodes an image from r (JPEG, PNG, or GIF), downscales it so its
// longer side does not exceed maxDimension (preserving aspect ratio,
// never upscaling), and returns the base64 JPEG form. maxDimension <= 0
// selects [DefaultMaxDimension].
func Encode(r io.Reader, maxDimension int) (Image, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}

	src, _, err := image.Decode(r)
	if err != nil {
		return Image{}, fmt.Errorf("attach: decode image: %w", err)
	}

	scaled := downscale(src, maxDimension)

	var buf bytes.Buffer
	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	if err := jpeg.Encode(enc, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Image{}, fmt.Errorf("attach: encode jpeg: %w", err)
	}
	if err := enc.Close(); err != nil {
		return Image{}, fmt.Errorf("attach: encode base64: %w", err)
	}

	bounds := scaled.Bounds()
	return Image{
		Data:      buf.String(),
		MediaType: MediaTypeJPEG,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}, nil
}

// downscale resizes src so its longer side is at most maxDim, using
// nearest-neighbour sampling. Images already within bounds pass through.
func downscale(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return src
	}

	var outW, outH int
	if w >= h {
		outW = maxDim
		outH = h * maxDim / w
	} else {
		outH = maxDim
		outW = w * maxDim / h
	}
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	for y := 0; y < outH; y++ {
		srcY := b.Min.Y + y*h/outH
		for x := 0; x < outW; x++ {
			srcX := b.Min.X + x*w/outW
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}
