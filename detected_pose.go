package posenet

import "fmt"

const (
	// MaxPoses Pose slots produced per tick
	MaxPoses = 10
	// NumKeypoints Parts per pose, in PartNames order
	NumKeypoints = 17
	// MinPoseScore Instance score for decoding and drawing
	MinPoseScore = 0.15
	// MinPartScore Part score for drawing
	MinPartScore = 0.1
)

// PartNames Keypoint order shared by the decoder, the drawer and telemetry
var PartNames = [NumKeypoints]string{
	"nose", "leftEye", "rightEye", "leftEar", "rightEar",
	"leftShoulder", "rightShoulder", "leftElbow", "rightElbow",
	"leftWrist", "rightWrist", "leftHip", "rightHip",
	"leftKnee", "rightKnee", "leftAnkle", "rightAnkle",
}

// Keypoint A body part location in buffer pixels. Y is the row, X the column.
type Keypoint struct {
	Y     float64
	X     float64
	Score float64
}

// Pose Store one detected person
type Pose struct {
	// Overall instance confidence in [0, 1]
	Score     float64
	Keypoints [NumKeypoints]Keypoint
}

// String returns a short description of the pose
func (p *Pose) String() string {
	visible := 0
	for _, kp := range p.Keypoints {
		if kp.Score >= MinPartScore {
			visible++
		}
	}
	return fmt.Sprintf("Pose{score: %.5f, visible parts: %d}", p.Score, visible)
}

// Coords returns keypoint coordinates as [y, x] pairs in part order
func (p *Pose) Coords() [][2]float64 {
	coords := make([][2]float64, NumKeypoints)
	for i, kp := range p.Keypoints {
		coords[i] = [2]float64{kp.Y, kp.X}
	}
	return coords
}

// scaled returns a copy with every coordinate multiplied by the per-axis scale
func (p Pose) scaled(scaleY, scaleX float64) Pose {
	for i := range p.Keypoints {
		p.Keypoints[i].Y *= scaleY
		p.Keypoints[i].X *= scaleX
	}
	return p
}
