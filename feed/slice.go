package feed

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ErrSliceRange is returned for a slice index outside the level.
var ErrSliceRange = errors.New("feed: slice out of range")

// Slice returns the z-slice of l as a grayscale image, mapping lo to black
// and hi to white. Row 0 of the image is the highest y.
func (l *LevelSnapshot) Slice(z int, lo, hi float32) (*image.Gray, error) {
	w, h, d := int(l.Resolution[0]), int(l.Resolution[1]), int(l.Resolution[2])
	if z < 0 || z >= d {
		return nil, fmt.Errorf("%w: z=%d, depth %d", ErrSliceRange, z, d)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	scale := float32(0)
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	for y := range h {
		row := img.Pix[(h-1-y)*img.Stride:]
		for x := range w {
			v := (l.At(x, y, z) - lo) * scale
			row[x] = uint8(min(max(v, 0), 255))
		}
	}
	return img, nil
}

// SliceOptions controls [RenderSlice].
type SliceOptions struct {
	// Size is the width of the output in pixels. The height keeps the
	// aspect ratio. If 0, defaults to 512.
	Size int

	// Lo and Hi bound the value range. If both are 0, the level's own
	// range is used.
	Lo, Hi float32

	// Caption is drawn in the top-left corner when non-empty.
	Caption string
}

// RenderSlice upscales the z-slice of l without filtering, so each cell
// stays a sharp square, and draws the caption.
func RenderSlice(l *LevelSnapshot, z int, opts SliceOptions) (*image.RGBA, error) {
	lo, hi := opts.Lo, opts.Hi
	if lo == 0 && hi == 0 {
		lo, hi = l.Range()
	}
	src, err := l.Slice(z, lo, hi)
	if err != nil {
		return nil, err
	}
	size := opts.Size
	if size <= 0 {
		size = 512
	}
	b := src.Bounds()
	height := max(1, size*b.Dy()/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, size, height))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)

	if opts.Caption != "" {
		face := basicfont.Face7x13
		d := font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.RGBA{R: 255, G: 220, A: 255}),
			Face: face,
			Dot:  fixed.P(4, face.Metrics().Ascent.Ceil()+2),
		}
		d.DrawString(opts.Caption)
	}
	return dst, nil
}

// WritePNG encodes img as PNG.
func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("feed: encode png: %w", err)
	}
	return nil
}
