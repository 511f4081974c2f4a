package posenet

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	// ErrSourceUnavailable No publisher is registered under the requested name
	ErrSourceUnavailable = errors.New("texture source unavailable")
	// ErrStaleTexture Readback of a texture that was not received into since the last readback
	ErrStaleTexture = errors.New("texture was not freshly written")
	// ErrTextureReleased Use of a handle after Release
	ErrTextureReleased = errors.New("texture handle released")
	// ErrSizeMismatch Texture and handle disagree on dimensions
	ErrSizeMismatch = errors.New("texture size mismatch")
)

var textureIDs uint32

// Texture Stand-in for a GPU-resident image. The pipeline owns exactly one per
// direction and reuses it every tick, like a bound GL texture name.
type Texture struct {
	ID     uint32
	Width  int
	Height int
	Format ColorFormat

	pix   []byte
	fresh bool
}

// NewTexture allocates a texture of fixed size (glGenTextures + glTexImage2D with no data)
func NewTexture(width, height int, format ColorFormat) *Texture {
	return &Texture{
		ID:     atomic.AddUint32(&textureIDs, 1),
		Width:  width,
		Height: height,
		Format: format,
		pix:    make([]byte, width*height*format.Channels()),
	}
}

// Upload replaces texture contents with the given buffer, top row first.
// The texture adopts the buffer's colour format. An upload does not count as
// a fresh receive.
func (t *Texture) Upload(frame FrameBuffer) error {
	if frame.Width != t.Width || frame.Height != t.Height {
		return errors.Wrapf(ErrSizeMismatch, "upload %dx%d into texture %d (%dx%d)", frame.Width, frame.Height, t.ID, t.Width, t.Height)
	}
	if err := frame.Validate(); err != nil {
		return errors.Wrap(err, "upload")
	}
	t.Format = frame.Format
	t.pix = append(t.pix[:0], frame.Pix...)
	t.fresh = false
	return nil
}

// receive is the write path used by texture sources
func (t *Texture) receive(frame FrameBuffer) error {
	if err := t.Upload(frame); err != nil {
		return err
	}
	t.fresh = true
	return nil
}

// Fresh reports whether a source wrote the texture since the last readback
func (t *Texture) Fresh() bool {
	return t.fresh
}

// Snapshot copies the current contents as a height-major buffer
func (t *Texture) Snapshot() FrameBuffer {
	return FrameBuffer{Width: t.Width, Height: t.Height, Format: t.Format, Pix: append([]byte(nil), t.pix...)}
}

// Readback copies texture memory into a CPU buffer in the requested format
// (glGetTexImage). The result is in readback order.
func (t *Texture) Readback(format ColorFormat) (CaptureBuffer, error) {
	if !t.fresh {
		return CaptureBuffer{}, errors.Wrapf(ErrStaleTexture, "texture %d", t.ID)
	}
	t.fresh = false
	frame := t.Snapshot().ToFormat(format)
	return frame.ToCapture(), nil
}

// TextureSource Receive side of a named shared texture
type TextureSource interface {
	Name() string
	// Receive writes the publisher's latest frame into tex
	Receive(tex *Texture) error
	Release() error
}

// TextureSink Send side of a named shared texture
type TextureSink interface {
	Name() string
	// Send pushes tex to consumers. flip marks the contents as stored bottom-up.
	Send(tex *Texture, flip bool) error
	Release() error
}

// TextureTransport Discovery and handshake mechanism for named textures
type TextureTransport interface {
	Acquire(name string, width, height int) (TextureSource, error)
	Publish(name string, width, height int) (TextureSink, error)
}

// TextureAdapter Texture interchange operations used by the frame pipeline
type TextureAdapter struct {
	transport TextureTransport
}

// NewTextureAdapter wraps a transport
func NewTextureAdapter(transport TextureTransport) *TextureAdapter {
	return &TextureAdapter{transport: transport}
}

// Acquire binds to a named external source. ErrSourceUnavailable is recoverable.
func (a *TextureAdapter) Acquire(name string, width, height int) (TextureSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid texture size %dx%d", width, height)
	}
	src, err := a.transport.Acquire(name, width, height)
	if err != nil {
		return nil, errors.Wrapf(err, "acquire %q", name)
	}
	return src, nil
}

// Receive refreshes tex from the bound source
func (a *TextureAdapter) Receive(src TextureSource, tex *Texture) error {
	if err := src.Receive(tex); err != nil {
		return errors.Wrapf(err, "receive %q", src.Name())
	}
	return nil
}

// Readback copies a freshly received texture into a CPU buffer
func (a *TextureAdapter) Readback(tex *Texture, format ColorFormat) (CaptureBuffer, error) {
	return tex.Readback(format)
}

// Publish creates an outbound named sink
func (a *TextureAdapter) Publish(name string, width, height int) (TextureSink, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid texture size %dx%d", width, height)
	}
	sink, err := a.transport.Publish(name, width, height)
	if err != nil {
		return nil, errors.Wrapf(err, "publish %q", name)
	}
	return sink, nil
}

// Send pushes the texture contents to the sink
func (a *TextureAdapter) Send(sink TextureSink, tex *Texture, width, height int, flipVertically bool) error {
	if tex.Width != width || tex.Height != height {
		return errors.Wrapf(ErrSizeMismatch, "send %dx%d, texture is %dx%d", width, height, tex.Width, tex.Height)
	}
	if err := sink.Send(tex, flipVertically); err != nil {
		return errors.Wrapf(err, "send %q", sink.Name())
	}
	return nil
}

// Release frees a source or sink registration. Nil handles are ignored.
func (a *TextureAdapter) Release(handle interface{ Release() error }) error {
	if handle == nil {
		return nil
	}
	return handle.Release()
}
