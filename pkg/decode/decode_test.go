package decode

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"imgload/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleFactor(t *testing.T) {
	tests := []struct {
		w, h int
		hint common.Size
		want int
	}{
		{100, 100, common.Size{}, 1},
		{100, 100, common.Size{Width: 100, Height: 100}, 1},
		{100, 100, common.Size{Width: 50, Height: 50}, 2},
		{100, 100, common.Size{Width: 40, Height: 40}, 3},
		{1000, 500, common.Size{Width: 100, Height: 0}, 10},
		{9, 9, common.Size{Width: 3, Height: 3}, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SampleFactor(tt.w, tt.h, tt.hint), "%dx%d -> %v", tt.w, tt.h, tt.hint)
	}
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x), uint8(y), 0, 255})
		}
	}
	path := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestDecodeFileDownsamples(t *testing.T) {
	path := writePNG(t, 64, 32)
	d := New()

	native, err := d.DecodeFile(context.Background(), path, common.Size{})
	require.NoError(t, err)
	assert.Equal(t, 64, native.Bounds().Dx())

	small, err := d.DecodeFile(context.Background(), path, common.Size{Width: 16, Height: 8})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), small.Bounds())
	r, g, _, _ := small.At(2, 1).RGBA()
	assert.Equal(t, uint32(8), r>>8)
	assert.Equal(t, uint32(4), g>>8)
}

func TestDecodeFileErrors(t *testing.T) {
	d := New()
	_, err := d.DecodeFile(context.Background(), filepath.Join(t.TempDir(), "missing.png"), common.Size{})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "junk.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0644))
	_, err = d.DecodeFile(context.Background(), path, common.Size{})
	assert.Error(t, err)
}
