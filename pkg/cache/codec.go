package cache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Format names an on-disk encoding for decoded images.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	// FormatZstd stores raw RGBA pixels compressed with zstd. Lossless and
	// cheap to decode.
	FormatZstd Format = "zst"
)

// ParseFormat accepts the format names and common aliases.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "zst", "zstd", "raw":
		return FormatZstd, nil
	default:
		return "", fmt.Errorf("unsupported cache format: %s", s)
	}
}

// Codec writes and reads decoded images in one format.
type Codec interface {
	Ext() string
	Encode(w io.Writer, img image.Image) error
	Decode(r io.Reader) (image.Image, error)
}

// NewCodec returns the codec for format. quality only applies to JPEG.
func NewCodec(format Format, quality int) (Codec, error) {
	switch format {
	case FormatJPEG:
		if quality <= 0 || quality > 100 {
			quality = jpeg.DefaultQuality
		}
		return jpegCodec{quality: quality}, nil
	case FormatPNG:
		return pngCodec{}, nil
	case FormatZstd:
		return zstdCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache format: %s", format)
	}
}

type jpegCodec struct{ quality int }

func (jpegCodec) Ext() string { return "jpg" }
func (c jpegCodec) Encode(w io.Writer, img image.Image) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: c.quality})
}
func (jpegCodec) Decode(r io.Reader) (image.Image, error) { return jpeg.Decode(r) }

type pngCodec struct{}

func (pngCodec) Ext() string                               { return "png" }
func (pngCodec) Encode(w io.Writer, img image.Image) error { return png.Encode(w, img) }
func (pngCodec) Decode(r io.Reader) (image.Image, error)   { return png.Decode(r) }

var zstdMagic = [4]byte{'I', 'M', 'G', 'Z'}

type zstdHeader struct {
	Magic  [4]byte
	Width  uint32
	Height uint32
}

type zstdCodec struct{}

func (zstdCodec) Ext() string { return "zst" }

func (zstdCodec) Encode(w io.Writer, img image.Image) error {
	rgba := toRGBA(img)
	b := rgba.Bounds()
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	hdr := zstdHeader{Magic: zstdMagic, Width: uint32(b.Dx()), Height: uint32(b.Dy())}
	if err := binary.Write(enc, binary.LittleEndian, hdr); err != nil {
		enc.Close()
		return err
	}
	rowLen := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		off := y * rgba.Stride
		if _, err := enc.Write(rgba.Pix[off : off+rowLen]); err != nil {
			enc.Close()
			return err
		}
	}
	return enc.Close()
}

func (zstdCodec) Decode(r io.Reader) (image.Image, error) {
	dec, err := zstd.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var hdr zstdHeader
	if err := binary.Read(dec, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if hdr.Magic != zstdMagic {
		return nil, errors.New("not a zst image")
	}
	const maxSide = 1 << 15
	if hdr.Width > maxSide || hdr.Height > maxSide {
		return nil, fmt.Errorf("image too large: %dx%d", hdr.Width, hdr.Height)
	}
	img := image.NewRGBA(image.Rect(0, 0, int(hdr.Width), int(hdr.Height)))
	if _, err := io.ReadFull(dec, img.Pix); err != nil {
		return nil, fmt.Errorf("reading pixels: %w", err)
	}
	return img, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// SizeOf estimates the memory held by a decoded image.
func SizeOf(img image.Image) int64 {
	switch v := img.(type) {
	case nil:
		return 0
	case *image.RGBA:
		return int64(len(v.Pix))
	case *image.NRGBA:
		return int64(len(v.Pix))
	case *image.Gray:
		return int64(len(v.Pix))
	case *image.Paletted:
		return int64(len(v.Pix)) + int64(len(v.Palette))*4
	case *image.YCbCr:
		return int64(len(v.Y) + len(v.Cb) + len(v.Cr))
	}
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
