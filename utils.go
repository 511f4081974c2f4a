package posenet

import "image"

// clampPoint Corrects a point's coordinates for provided max-width and max-height
// Keeps drawing calls inside the image
func clampPoint(p image.Point, maxCols, maxRows int) image.Point {
	if p.X < 0 {
		p.X = 0
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if p.X >= maxCols {
		p.X = maxCols - 1
	}
	if p.Y >= maxRows {
		p.Y = maxRows - 1
	}
	return p
}

// keypointPoint rounds a keypoint to a pixel inside a width x height image
func keypointPoint(kp Keypoint, width, height int) image.Point {
	return clampPoint(image.Pt(int(kp.X+0.5), int(kp.Y+0.5)), width, height)
}
