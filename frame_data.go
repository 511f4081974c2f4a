package posenet

import (
	"fmt"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ColorFormat Pixel layout of a texture or CPU buffer
type ColorFormat int

const (
	FormatRGB ColorFormat = iota
	FormatRGBA
)

// Channels returns number of 8-bit samples per pixel
func (f ColorFormat) Channels() int {
	if f == FormatRGBA {
		return 4
	}
	return 3
}

func (f ColorFormat) String() string {
	if f == FormatRGBA {
		return "RGBA"
	}
	return "RGB"
}

// CaptureBuffer Pixels exactly as they come out of a texture readback.
// Its shape reads [width][height][channels] although the memory underneath
// is row-major, top row first. Use ToFrame before handing it to anything else.
type CaptureBuffer struct {
	Width  int
	Height int
	Format ColorFormat
	Pix    []byte
}

// Shape returns the axis lengths in readback order
func (c CaptureBuffer) Shape() [3]int {
	return [3]int{c.Width, c.Height, c.Format.Channels()}
}

// ToFrame swaps the width and height axes, producing the height-major buffer
// inference and drawing expect. Pixel memory is shared, not copied.
func (c CaptureBuffer) ToFrame() FrameBuffer {
	return FrameBuffer{Width: c.Width, Height: c.Height, Format: c.Format, Pix: c.Pix}
}

// FrameBuffer Height-major CPU image, shape [height][width][channels]
type FrameBuffer struct {
	Width  int
	Height int
	Format ColorFormat
	Pix    []byte
}

// NewFrameBuffer allocates a zeroed (black) buffer
func NewFrameBuffer(width, height int, format ColorFormat) FrameBuffer {
	return FrameBuffer{
		Width:  width,
		Height: height,
		Format: format,
		Pix:    make([]byte, width*height*format.Channels()),
	}
}

// Shape returns the axis lengths in height-major order
func (f FrameBuffer) Shape() [3]int {
	return [3]int{f.Height, f.Width, f.Format.Channels()}
}

// ToCapture is the inverse of CaptureBuffer.ToFrame
func (f FrameBuffer) ToCapture() CaptureBuffer {
	return CaptureBuffer{Width: f.Width, Height: f.Height, Format: f.Format, Pix: f.Pix}
}

// Empty reports whether the buffer carries no pixels
func (f FrameBuffer) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) == 0
}

// Validate checks that pixel storage matches the declared shape
func (f FrameBuffer) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * f.Format.Channels(); len(f.Pix) != want {
		return fmt.Errorf("frame %dx%d %s holds %d bytes, want %d", f.Width, f.Height, f.Format, len(f.Pix), want)
	}
	return nil
}

func (f FrameBuffer) offset(x, y int) int {
	return (y*f.Width + x) * f.Format.Channels()
}

// At returns the samples of pixel (x, y), y counted from the top row
func (f FrameBuffer) At(x, y int) []byte {
	o := f.offset(x, y)
	return f.Pix[o : o+f.Format.Channels()]
}

// Set overwrites pixel (x, y) with the given samples
func (f FrameBuffer) Set(x, y int, samples ...byte) {
	copy(f.At(x, y), samples)
}

// Clone deep-copies pixel memory
func (f FrameBuffer) Clone() FrameBuffer {
	c := f
	c.Pix = append([]byte(nil), f.Pix...)
	return c
}

// FlipVertical returns a mirrored copy: row y of the result is row H-1-y of f
func (f FrameBuffer) FlipVertical() FrameBuffer {
	out := FrameBuffer{Width: f.Width, Height: f.Height, Format: f.Format, Pix: make([]byte, len(f.Pix))}
	stride := f.Width * f.Format.Channels()
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*stride : (y+1)*stride]
		dst := out.Pix[(f.Height-1-y)*stride : (f.Height-y)*stride]
		copy(dst, src)
	}
	return out
}

// ToFormat converts between RGB and RGBA. Alpha is dropped or set opaque.
func (f FrameBuffer) ToFormat(format ColorFormat) FrameBuffer {
	if f.Format == format {
		return f
	}
	out := NewFrameBuffer(f.Width, f.Height, format)
	srcC, dstC := f.Format.Channels(), format.Channels()
	for i, j := 0, 0; i < len(f.Pix); i, j = i+srcC, j+dstC {
		copy(out.Pix[j:j+3], f.Pix[i:i+3])
		if dstC == 4 {
			out.Pix[j+3] = 255
		}
	}
	return out
}

// Mat copies the buffer into a gocv.Mat. Caller must close it.
func (f FrameBuffer) Mat() (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.Mat{}, err
	}
	matType := gocv.MatTypeCV8UC3
	if f.Format == FormatRGBA {
		matType = gocv.MatTypeCV8UC4
	}
	m, err := gocv.NewMatFromBytes(f.Height, f.Width, matType, f.Pix)
	if err != nil {
		return m, errors.Wrap(err, "Can't create gocv.Mat from frame")
	}
	return m, nil
}

// FrameFromMat copies an 8-bit 3 or 4 channel gocv.Mat into a FrameBuffer
func FrameFromMat(m gocv.Mat) (FrameBuffer, error) {
	if m.Empty() {
		return FrameBuffer{}, fmt.Errorf("empty mat")
	}
	format := FormatRGB
	switch m.Channels() {
	case 3:
	case 4:
		format = FormatRGBA
	default:
		return FrameBuffer{}, fmt.Errorf("unsupported channel count %d", m.Channels())
	}
	f := FrameBuffer{Width: m.Cols(), Height: m.Rows(), Format: format, Pix: m.ToBytes()}
	return f, f.Validate()
}
