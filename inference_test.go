package posenet

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidResolution(t *testing.T) {
	w, h := ValidResolution(640, 480, 1.0, 16)
	assert.Equal(t, 641, w)
	assert.Equal(t, 481, h)

	w, h = ValidResolution(640, 480, 0.7125, 16)
	assert.Equal(t, 449, w)
	assert.Equal(t, 337, h)

	w, h = ValidResolution(33, 33, 1.0, 32)
	assert.Equal(t, 33, w)
	assert.Equal(t, 33, h)
}

func TestInputTensorNormalization(t *testing.T) {
	f := NewFrameBuffer(2, 1, FormatRGB)
	f.Set(0, 0, 0, 255, 0)
	f.Set(1, 0, 255, 0, 255)

	tensor := InputImage{Frame: f, Scale: inputScale, Mean: inputMean}.Tensor()
	assert.Equal(t, []int{1, 3, 1, 2}, tensor.Shape)
	assert.InDelta(t, -1, tensor.At(0, 0, 0, 0), 1e-6)
	assert.InDelta(t, 1, tensor.At(0, 0, 0, 1), 1e-6)
	assert.InDelta(t, 1, tensor.At(0, 1, 0, 0), 1e-6)
	assert.InDelta(t, -1, tensor.At(0, 2, 0, 0), 1e-6)
}

func TestEstimateScalesCoordinatesOnce(t *testing.T) {
	model := &fakeModel{stride: 16}
	decoder := &fakeDecoder{poses: []Pose{poseWithScore(0.9), poseWithScore(0.02)}}
	estimator := NewEstimator(model, decoder)

	frame := gradientFrame(640, 480, FormatRGB)
	poses, err := estimator.Estimate(frame)
	require.NoError(t, err)
	require.Len(t, poses, 2)

	require.Len(t, model.inputs, 1)
	assert.Equal(t, 641, model.inputs[0].Frame.Width)
	assert.Equal(t, 481, model.inputs[0].Frame.Height)

	require.Len(t, decoder.params, 1)
	assert.Equal(t, DecodeParams{OutputStride: 16, MaxPoseDetections: 10, MinPoseScore: 0.15}, decoder.params[0])

	kp := poses[0].Keypoints[5]
	assert.InDelta(t, 50*480.0/481.0, kp.Y, 1e-9)
	assert.InDelta(t, 100*640.0/641.0, kp.X, 1e-9)
	assert.Equal(t, 0.9, poses[0].Score)
	assert.Equal(t, 0.02, poses[1].Score)

	// a second call starts from the decoder output again
	poses, err = estimator.Estimate(frame)
	require.NoError(t, err)
	assert.InDelta(t, 50*480.0/481.0, poses[0].Keypoints[5].Y, 1e-9)
}

func TestEstimateCapsAndKeepsOrder(t *testing.T) {
	decoded := make([]Pose, 12)
	for i := range decoded {
		decoded[i] = Pose{Score: float64(i) / 20}
	}
	estimator := NewEstimator(&fakeModel{stride: 16}, &fakeDecoder{poses: decoded})

	poses, err := estimator.Estimate(gradientFrame(33, 17, FormatRGB))
	require.NoError(t, err)
	require.Len(t, poses, MaxPoses)
	for i := range poses {
		assert.Equal(t, float64(i)/20, poses[i].Score)
	}
}

func TestEstimateErrors(t *testing.T) {
	_, err := NewEstimator(&fakeModel{stride: 16, err: errors.New("gpu stall")}, &fakeDecoder{}).Estimate(gradientFrame(33, 17, FormatRGB))
	assert.Error(t, err)

	_, err = NewEstimator(&fakeModel{stride: 16}, &fakeDecoder{err: errors.New("bad tensors")}).Estimate(gradientFrame(33, 17, FormatRGB))
	assert.Error(t, err)

	_, err = NewEstimator(&fakeModel{stride: 16}, &fakeDecoder{}).Estimate(FrameBuffer{})
	assert.Error(t, err)
}
