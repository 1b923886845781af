package httpserver

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	// registered decoders for the supported input formats
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	thumbMaxEdge = 256
	thumbQuality = 82
)

// renderThumb decodes an image file and returns a jpeg thumbnail whose
// longest edge is thumbMaxEdge.
func renderThumb(absPath string) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("empty image %q", absPath)
	}

	nw, nh := fitWithin(b.Dx(), b.Dy(), thumbMaxEdge)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// fitWithin scales (w, h) down proportionally so the longest edge is at
// most max. Never upscales, never returns zero.
func fitWithin(w, h, max int) (int, int) {
	long := w
	if h > w {
		long = h
	}
	if long <= max {
		return w, h
	}
	scale := float64(max) / float64(long)
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
