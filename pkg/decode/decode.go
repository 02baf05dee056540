// Package decode turns image files into downsampled in-memory images.
package decode

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"imgload/pkg/common"
)

// Decoder decodes gif, jpeg and png files, shrinking them by an integer
// factor until they fit the requested pixel count.
// Immutable
type Decoder struct{}

func New() *Decoder { return &Decoder{} }

func (d *Decoder) DecodeFile(ctx context.Context, path string, hint common.Size) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	factor := SampleFactor(b.Dx(), b.Dy(), hint)
	if factor == 1 {
		return img, nil
	}
	return Subsample(img, factor), nil
}

// SampleFactor returns the smallest integer s such that a w by h image shrunk
// by s on both axes has no more pixels than hint allows. A zero hint keeps
// the native size. A hint with one zero side constrains only the other side.
func SampleFactor(w, h int, hint common.Size) int {
	if hint.IsZero() || w <= 0 || h <= 0 {
		return 1
	}
	tw, th := hint.Width, hint.Height
	if tw <= 0 {
		tw = w * th / h
	}
	if th <= 0 {
		th = h * tw / w
	}
	limit := int64(tw) * int64(th)
	if limit <= 0 {
		limit = 1
	}
	s := 1
	for int64(w/s)*int64(h/s) > limit && s < w && s < h {
		s++
	}
	return s
}

// Subsample keeps every factor-th pixel of img.
func Subsample(img image.Image, factor int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx()/factor, b.Dy()/factor
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	src, ok := img.(*image.RGBA)
	if !ok {
		src = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			so := src.PixOffset(sb.Min.X+x*factor, sb.Min.Y+y*factor)
			do := dst.PixOffset(x, y)
			copy(dst.Pix[do:do+4], src.Pix[so:so+4])
		}
	}
	return dst
}
