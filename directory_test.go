package posenet

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireUnknownSource(t *testing.T) {
	adapter := NewTextureAdapter(NewDirectory())
	_, err := adapter.Acquire("missing", 640, 480)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestAnnounceReceiveRelease(t *testing.T) {
	dir := NewDirectory()
	pub, err := dir.Announce("cam", 4, 3)
	require.NoError(t, err)

	_, err = dir.Announce("cam", 4, 3)
	assert.Error(t, err, "names are unique")

	src, err := dir.Acquire("cam", 4, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, dir.Receivers("cam"))

	tex := NewTexture(4, 3, FormatRGBA)
	assert.True(t, errors.Is(src.Receive(tex), ErrNoFrame))

	frame := gradientFrame(4, 3, FormatRGBA)
	require.NoError(t, pub.Write(frame))
	require.NoError(t, src.Receive(tex))
	assert.Equal(t, frame, tex.Snapshot())

	require.NoError(t, src.Release())
	require.NoError(t, src.Release())
	assert.Equal(t, 0, dir.Receivers("cam"))
	assert.True(t, errors.Is(src.Receive(tex), ErrTextureReleased))
}

func TestAcquireSizeMismatch(t *testing.T) {
	dir := NewDirectory()
	_, err := dir.Announce("cam", 4, 3)
	require.NoError(t, err)
	_, err = dir.Acquire("cam", 3, 4)
	assert.True(t, errors.Is(err, ErrSizeMismatch))
	assert.Equal(t, 0, dir.Receivers("cam"))
}

func TestWithdrawnSourceBecomesUnavailable(t *testing.T) {
	dir := NewDirectory()
	pub, err := dir.Announce("cam", 2, 2)
	require.NoError(t, err)
	require.NoError(t, pub.Write(gradientFrame(2, 2, FormatRGB)))

	src, err := dir.Acquire("cam", 2, 2)
	require.NoError(t, err)
	pub.Withdraw()

	assert.True(t, errors.Is(src.Receive(NewTexture(2, 2, FormatRGB)), ErrSourceUnavailable))
	assert.Empty(t, dir.Names())
}

func TestSinkFlipIsRestoredByReceivers(t *testing.T) {
	dir := NewDirectory()
	sink, err := dir.Publish("Posenet", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"Posenet"}, dir.Names())

	display := gradientFrame(3, 4, FormatRGB)
	tex := NewTexture(3, 4, FormatRGB)
	require.NoError(t, tex.Upload(display.FlipVertical()))
	require.NoError(t, sink.Send(tex, true))

	pub, ok := dir.Lookup("Posenet")
	require.True(t, ok)
	raw, bottomUp, seq := pub.Latest()
	assert.True(t, bottomUp)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, display.FlipVertical(), raw)

	src, err := dir.Acquire("Posenet", 3, 4)
	require.NoError(t, err)
	out := NewTexture(3, 4, FormatRGB)
	require.NoError(t, src.Receive(out))
	assert.Equal(t, display, out.Snapshot())

	require.NoError(t, sink.Release())
	assert.Empty(t, dir.Names())
	assert.True(t, errors.Is(sink.Send(tex, true), ErrTextureReleased))
}

func TestPublishStateAnnouncesLazily(t *testing.T) {
	dir := NewDirectory()
	state := &publishState{dir: dir, name: "cam", width: 2, height: 2}
	assert.Empty(t, dir.Names())

	require.NoError(t, state.write(gradientFrame(2, 2, FormatRGB)))
	assert.Equal(t, []string{"cam"}, dir.Names())
	assert.Error(t, state.write(gradientFrame(3, 2, FormatRGB)))

	state.withdraw()
	assert.Empty(t, dir.Names())
}

func TestReceiveSkipsAlreadyDeliveredFrame(t *testing.T) {
	dir := NewDirectory()
	pub, err := dir.Announce("cam", 2, 2)
	require.NoError(t, err)
	src, err := dir.Acquire("cam", 2, 2)
	require.NoError(t, err)
	defer src.Release()
	adapter := NewTextureAdapter(dir)
	tex := NewTexture(2, 2, FormatRGB)

	require.NoError(t, pub.Write(gradientFrame(2, 2, FormatRGB)))
	require.NoError(t, src.Receive(tex))
	_, err = adapter.Readback(tex, FormatRGB)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.True(t, errors.Is(src.Receive(tex), ErrNoFrame), "receive %d", i)
		_, err = adapter.Readback(tex, FormatRGB)
		assert.True(t, errors.Is(err, ErrStaleTexture), "readback %d", i)
	}

	require.NoError(t, pub.Write(gradientFrame(2, 2, FormatRGB).FlipVertical()))
	require.NoError(t, src.Receive(tex))
	_, err = adapter.Readback(tex, FormatRGB)
	assert.NoError(t, err)
}
