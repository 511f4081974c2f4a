package posenet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgmaxDecoder(t *testing.T) {
	const rows, cols = 3, 4
	heatmaps := NewTensor(NumKeypoints, rows, cols)
	offsets := NewTensor(2*NumKeypoints, rows, cols)
	for k := 0; k < NumKeypoints; k++ {
		y, x := k%rows, k%cols
		heatmaps.Set(0.8, k, y, x)
		offsets.Set(1.5, k, y, x)
		offsets.Set(-2, k+NumKeypoints, y, x)
	}

	params := DecodeParams{OutputStride: 16, MaxPoseDetections: MaxPoses, MinPoseScore: MinPoseScore}
	poses, err := ArgmaxDecoder{}.Decode(Tensors{Heatmaps: heatmaps, Offsets: offsets}, params)
	require.NoError(t, err)
	require.Len(t, poses, MaxPoses)

	assert.InDelta(t, 0.8, poses[0].Score, 1e-6)
	kp := poses[0].Keypoints[6]
	assert.InDelta(t, float64(0*16)+1.5, kp.Y, 1e-6)
	assert.InDelta(t, float64(2*16)-2, kp.X, 1e-6)
	for _, p := range poses[1:] {
		assert.Zero(t, p.Score)
	}
}

func TestArgmaxDecoderBelowThreshold(t *testing.T) {
	heatmaps := NewTensor(NumKeypoints, 2, 2)
	offsets := NewTensor(2*NumKeypoints, 2, 2)
	poses, err := ArgmaxDecoder{}.Decode(Tensors{Heatmaps: heatmaps, Offsets: offsets},
		DecodeParams{OutputStride: 16, MaxPoseDetections: MaxPoses, MinPoseScore: MinPoseScore})
	require.NoError(t, err)
	assert.Zero(t, poses[0].Score)
}

func TestArgmaxDecoderShapeErrors(t *testing.T) {
	_, err := ArgmaxDecoder{}.Decode(Tensors{Heatmaps: NewTensor(3, 2, 2)}, DecodeParams{MaxPoseDetections: 1})
	assert.Error(t, err)

	_, err = ArgmaxDecoder{}.Decode(Tensors{Heatmaps: NewTensor(NumKeypoints, 2, 2), Offsets: NewTensor(2*NumKeypoints, 3, 2)}, DecodeParams{MaxPoseDetections: 1})
	assert.Error(t, err)
}
