package posenet

import (
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// skeleton pairs of part indices joined by a limb
var skeleton = [][2]int{
	{11, 5}, {7, 5}, {7, 9}, {11, 13}, {13, 15},
	{12, 6}, {8, 6}, {8, 10}, {12, 14}, {14, 16},
	{5, 6}, {11, 12},
}

var (
	keypointColor = color.RGBA{R: 255, G: 255, B: 0}
	limbColor     = color.RGBA{R: 0, G: 255, B: 255}
)

// Drawer Renders poses over a frame, returning a new buffer of the same shape
type Drawer interface {
	DrawOverlay(frame FrameBuffer, poses []Pose, minPoseScore, minPartScore float64) (FrameBuffer, error)
}

// SkeletonDrawer Draws joints as circles and limbs as lines with gocv
type SkeletonDrawer struct {
	Radius    int
	Thickness int
}

// NewSkeletonDrawer returns a drawer with the default stroke sizes
func NewSkeletonDrawer() *SkeletonDrawer {
	return &SkeletonDrawer{Radius: 3, Thickness: 2}
}

// matColor gocv treats color.RGBA as BGR sample order, frames are RGB
func matColor(c color.RGBA) color.RGBA {
	return color.RGBA{R: c.B, G: c.G, B: c.R, A: c.A}
}

func (d *SkeletonDrawer) DrawOverlay(frame FrameBuffer, poses []Pose, minPoseScore, minPartScore float64) (FrameBuffer, error) {
	img, err := frame.Clone().Mat()
	if err != nil {
		return FrameBuffer{}, err
	}
	defer img.Close()

	for i := range poses {
		pose := &poses[i]
		if pose.Score < minPoseScore {
			continue
		}
		for _, limb := range skeleton {
			a, b := pose.Keypoints[limb[0]], pose.Keypoints[limb[1]]
			if a.Score < minPartScore || b.Score < minPartScore {
				continue
			}
			gocv.Line(&img, keypointPoint(a, frame.Width, frame.Height), keypointPoint(b, frame.Width, frame.Height), matColor(limbColor), d.Thickness)
		}
		for _, kp := range pose.Keypoints {
			if kp.Score < minPartScore {
				continue
			}
			gocv.Circle(&img, keypointPoint(kp, frame.Width, frame.Height), d.Radius, matColor(keypointColor), -1)
		}
	}

	out, err := FrameFromMat(img)
	if err != nil {
		return FrameBuffer{}, errors.Wrap(err, "Can't read back overlay")
	}
	out.Format = frame.Format
	return out, nil
}

// OverlayViews The annotated frame as shown locally and as published
type OverlayViews struct {
	// Display is top-down, for the local window
	Display FrameBuffer
	// Publish is the vertical mirror of Display, for the outbound texture
	Publish FrameBuffer
}

// Compositor Produces both overlay views for a tick
type Compositor struct {
	drawer Drawer
}

// NewCompositor wraps a drawer
func NewCompositor(drawer Drawer) *Compositor {
	return &Compositor{drawer: drawer}
}

// Compose draws poses over frame with the decode thresholds
func (c *Compositor) Compose(frame FrameBuffer, poses []Pose) (OverlayViews, error) {
	overlay, err := c.drawer.DrawOverlay(frame, poses, MinPoseScore, MinPartScore)
	if err != nil {
		return OverlayViews{}, errors.Wrap(err, "draw overlay")
	}
	if overlay.Width != frame.Width || overlay.Height != frame.Height || overlay.Format != frame.Format {
		return OverlayViews{}, errors.Wrapf(ErrSizeMismatch, "overlay is %dx%d %s, frame is %dx%d %s",
			overlay.Width, overlay.Height, overlay.Format, frame.Width, frame.Height, frame.Format)
	}
	return OverlayViews{Display: overlay, Publish: overlay.FlipVertical()}, nil
}
