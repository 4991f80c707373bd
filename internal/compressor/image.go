package compressor

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pixiv/go-libjpeg/jpeg"
)

// workingImage is the mutable state of one search. It is owned by a single
// Compress call and never shared.
type workingImage struct {
	img     *image.NRGBA
	width   int
	height  int
	quality int
}

func newWorkingImage(src image.Image) *workingImage {
	img := toOpaqueRGB(src)
	b := img.Bounds()
	return &workingImage{
		img:     img,
		width:   b.Dx(),
		height:  b.Dy(),
		quality: MaxQuality,
	}
}

// encode returns the optimized progressive JPEG encoding of the current state.
func (w *workingImage) encode() ([]byte, error) {
	var buf bytes.Buffer
	opts := &jpeg.EncoderOptions{
		Quality:         w.quality,
		OptimizeCoding:  true,
		ProgressiveMode: true,
	}
	if err := jpeg.Encode(&buf, w.rgba(), opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// rgba views the buffer as RGBA without copying. Every pixel is opaque, so
// the premultiplied and straight layouts are identical.
func (w *workingImage) rgba() *image.RGBA {
	return &image.RGBA{Pix: w.img.Pix, Stride: w.img.Stride, Rect: w.img.Rect}
}

// shrunk returns the dimensions after one resize step, each axis at least 1.
func (w *workingImage) shrunk(factor float64) (int, int) {
	return max(1, int(float64(w.width)*factor)), max(1, int(float64(w.height)*factor))
}

func (w *workingImage) resize(width, height int) {
	w.img = imaging.Resize(w.img, width, height, imaging.Lanczos)
	w.width, w.height = width, height
}

// toOpaqueRGB copies src into a fresh NRGBA buffer and drops the alpha
// channel, keeping the stored colour of transparent pixels.
func toOpaqueRGB(src image.Image) *image.NRGBA {
	img := imaging.Clone(src)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}
