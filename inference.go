package posenet

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	// inputScaleFactor Resize factor applied before inference. Configuration
	// carries a scale factor too but the frame is always read at full scale.
	inputScaleFactor = 1.0
	// Samples are mapped from [0, 255] to [-1, 1]
	inputScale = 2.0 / 255.0
	inputMean  = 127.5
)

// Tensor Dense float32 array, row-major
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

func (t Tensor) index(idx []int) int {
	i := 0
	for axis, v := range idx {
		i = i*t.Shape[axis] + v
	}
	return i
}

// At returns the element at the given index
func (t Tensor) At(idx ...int) float32 {
	return t.Data[t.index(idx)]
}

// Set stores v at the given index
func (t Tensor) Set(v float32, idx ...int) {
	t.Data[t.index(idx)] = v
}

// Tensors Raw network outputs with the batch axis removed. Every tensor is
// laid out [channels][rows][cols]: heatmaps hold one channel per part,
// offsets hold the y offsets of every part followed by the x offsets.
type Tensors struct {
	Heatmaps        Tensor
	Offsets         Tensor
	DisplacementFwd Tensor
	DisplacementBwd Tensor
}

// InputImage Frame resized to the model resolution plus the normalization the
// model expects
type InputImage struct {
	Frame FrameBuffer
	Scale float64
	Mean  float64
}

// Tensor returns the normalized NCHW input, (sample-Mean)*Scale
func (in InputImage) Tensor() Tensor {
	f := in.Frame
	t := NewTensor(1, 3, f.Height, f.Width)
	c := f.Format.Channels()
	plane := f.Height * f.Width
	for i := 0; i < plane; i++ {
		for ch := 0; ch < 3; ch++ {
			t.Data[ch*plane+i] = float32((float64(f.Pix[i*c+ch]) - in.Mean) * in.Scale)
		}
	}
	return t
}

// Model Neural network producing pose tensors
type Model interface {
	Infer(input InputImage) (Tensors, error)
	OutputStride() int
}

// DecodeParams Fixed parameters passed to the decoder
type DecodeParams struct {
	OutputStride      int
	MaxPoseDetections int
	MinPoseScore      float64
}

// Decoder Turns raw tensors into poses in model input pixel space
type Decoder interface {
	Decode(tensors Tensors, params DecodeParams) ([]Pose, error)
}

// ValidResolution returns the input size the network accepts for a frame of
// width x height: each side is scaled, snapped down to the stride and grown by one.
func ValidResolution(width, height int, scale float64, stride int) (int, int) {
	w := (int(float64(width)*scale)/stride)*stride + 1
	h := (int(float64(height)*scale)/stride)*stride + 1
	return w, h
}

// Estimator Runs inference and decoding on height-major frames. It keeps no
// state between calls.
type Estimator struct {
	model   Model
	decoder Decoder
}

// NewEstimator pairs a model with a decoder
func NewEstimator(model Model, decoder Decoder) *Estimator {
	return &Estimator{model: model, decoder: decoder}
}

// Params returns the decode parameters used for every call
func (e *Estimator) Params() DecodeParams {
	return DecodeParams{
		OutputStride:      e.model.OutputStride(),
		MaxPoseDetections: MaxPoses,
		MinPoseScore:      MinPoseScore,
	}
}

// Estimate detects up to MaxPoses poses. Coordinates are returned in frame
// pixels, in the order the decoder produced them.
func (e *Estimator) Estimate(frame FrameBuffer) ([]Pose, error) {
	if err := frame.Validate(); err != nil {
		return nil, errors.Wrap(err, "estimate")
	}

	input, scaleY, scaleX, err := e.prepareInput(frame)
	if err != nil {
		return nil, err
	}

	tensors, err := e.model.Infer(input)
	if err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	decoded, err := e.decoder.Decode(tensors, e.Params())
	if err != nil {
		return nil, errors.Wrap(err, "decode failed")
	}
	if len(decoded) > MaxPoses {
		decoded = decoded[:MaxPoses]
	}

	poses := make([]Pose, len(decoded))
	for i := range decoded {
		poses[i] = decoded[i].scaled(scaleY, scaleX)
	}
	return poses, nil
}

// prepareInput resizes the frame to the valid resolution and reports the
// factors mapping model pixels back to frame pixels
func (e *Estimator) prepareInput(frame FrameBuffer) (InputImage, float64, float64, error) {
	frame = frame.ToFormat(FormatRGB)
	width, height := ValidResolution(frame.Width, frame.Height, inputScaleFactor, e.model.OutputStride())
	scaleY := float64(frame.Height) / float64(height)
	scaleX := float64(frame.Width) / float64(width)

	resized, err := resizeFrame(frame, width, height)
	if err != nil {
		return InputImage{}, 0, 0, err
	}
	return InputImage{Frame: resized, Scale: inputScale, Mean: inputMean}, scaleY, scaleX, nil
}

func resizeFrame(frame FrameBuffer, width, height int) (FrameBuffer, error) {
	if frame.Width == width && frame.Height == height {
		return frame, nil
	}
	src, err := frame.Mat()
	if err != nil {
		return FrameBuffer{}, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLinear)
	return FrameFromMat(dst)
}
