package posenet

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposePublishIsMirrorOfDisplay(t *testing.T) {
	c := NewCompositor(&markDrawer{})
	frame := gradientFrame(6, 5, FormatRGB)

	views, err := c.Compose(frame, nil)
	require.NoError(t, err)
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			assert.Equal(t, views.Display.At(x, y), views.Publish.At(x, frame.Height-1-y))
		}
	}
	assert.Equal(t, []byte{255, 255, 255}, views.Display.At(0, 0))
	assert.Equal(t, []byte{0, 0, 0}, frame.At(0, 0), "input frame is left untouched")
}

type shrinkingDrawer struct{}

func (shrinkingDrawer) DrawOverlay(frame FrameBuffer, _ []Pose, _, _ float64) (FrameBuffer, error) {
	return NewFrameBuffer(frame.Width-1, frame.Height, frame.Format), nil
}

func TestComposeRejectsResizedOverlay(t *testing.T) {
	_, err := NewCompositor(shrinkingDrawer{}).Compose(gradientFrame(4, 4, FormatRGB), nil)
	assert.True(t, errors.Is(err, ErrSizeMismatch))
}

func TestSkeletonDrawerThresholds(t *testing.T) {
	frame := NewFrameBuffer(64, 64, FormatRGB)
	confident := Pose{Score: 0.9}
	for i := range confident.Keypoints {
		confident.Keypoints[i] = Keypoint{Y: 32, X: 32, Score: 0.9}
	}
	weak := Pose{Score: 0.1}
	for i := range weak.Keypoints {
		weak.Keypoints[i] = Keypoint{Y: 5, X: 5, Score: 0.9}
	}

	out, err := NewSkeletonDrawer().DrawOverlay(frame, []Pose{confident, weak}, MinPoseScore, MinPartScore)
	require.NoError(t, err)
	assert.Equal(t, frame.Shape(), out.Shape())
	assert.Equal(t, []byte{255, 255, 0}, out.At(32, 32), "joint drawn in RGB order")
	assert.Equal(t, []byte{0, 0, 0}, out.At(5, 5), "pose below instance score is skipped")
	assert.Equal(t, []byte{0, 0, 0}, frame.At(32, 32), "input frame is left untouched")
}

func TestKeypointPointClamps(t *testing.T) {
	p := keypointPoint(Keypoint{Y: -3, X: 700}, 640, 480)
	assert.Equal(t, 639, p.X)
	assert.Equal(t, 0, p.Y)
}
