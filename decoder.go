package posenet

import "github.com/pkg/errors"

// ArgmaxDecoder Single-person decoder: every part is placed at the strongest
// heatmap cell refined by its offset vector. The result always has
// MaxPoseDetections slots, unused ones carry a zero score.
type ArgmaxDecoder struct{}

func (ArgmaxDecoder) Decode(t Tensors, params DecodeParams) ([]Pose, error) {
	hm := t.Heatmaps
	if len(hm.Shape) != 3 || hm.Shape[0] != NumKeypoints {
		return nil, errors.Errorf("heatmaps shape %v", hm.Shape)
	}
	rows, cols := hm.Shape[1], hm.Shape[2]
	if len(t.Offsets.Shape) != 3 || t.Offsets.Shape[0] != 2*NumKeypoints || t.Offsets.Shape[1] != rows || t.Offsets.Shape[2] != cols {
		return nil, errors.Errorf("offsets shape %v does not match heatmaps %v", t.Offsets.Shape, hm.Shape)
	}

	poses := make([]Pose, params.MaxPoseDetections)
	if params.MaxPoseDetections == 0 {
		return poses, nil
	}

	var pose Pose
	total := 0.0
	for k := 0; k < NumKeypoints; k++ {
		bestY, bestX := 0, 0
		best := hm.At(k, 0, 0)
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				if v := hm.At(k, y, x); v > best {
					best, bestY, bestX = v, y, x
				}
			}
		}
		pose.Keypoints[k] = Keypoint{
			Y:     float64(bestY*params.OutputStride) + float64(t.Offsets.At(k, bestY, bestX)),
			X:     float64(bestX*params.OutputStride) + float64(t.Offsets.At(k+NumKeypoints, bestY, bestX)),
			Score: float64(best),
		}
		total += float64(best)
	}
	pose.Score = total / NumKeypoints

	if pose.Score >= params.MinPoseScore {
		poses[0] = pose
	}
	return poses, nil
}
