package posenet

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// NetModel Pose network executed by OpenCV's DNN module
type NetModel struct {
	neuralNetwork *gocv.Net
	layersNames   []string
	outputStride  int
}

// NewNetModel loads the weights selected by the settings
func NewNetModel(settings NeuralNetworkSettings) (*NetModel, error) {
	path := settings.ModelPath()
	neuralNet := gocv.ReadNet(path, "")
	if neuralNet.Empty() {
		return nil, errors.Errorf("Can't read network from %s", path)
	}

	outLayerNames := make([]string, 0, 4)
	for _, idx := range neuralNet.GetUnconnectedOutLayers() {
		layer := neuralNet.GetLayer(idx)
		outLayerNames = append(outLayerNames, layer.GetName())
	}

	if err := neuralNet.SetPreferableBackend(gocv.ParseNetBackend(settings.Backend)); err != nil {
		neuralNet.Close()
		return nil, errors.Wrapf(err, "Can't set backend %s", settings.Backend)
	}
	if err := neuralNet.SetPreferableTarget(gocv.ParseNetTarget(settings.Target)); err != nil {
		neuralNet.Close()
		return nil, errors.Wrapf(err, "Can't set target %s", settings.Target)
	}

	return &NetModel{
		neuralNetwork: &neuralNet,
		layersNames:   outLayerNames,
		outputStride:  settings.OutputStride,
	}, nil
}

func (m *NetModel) OutputStride() int {
	return m.outputStride
}

// Infer runs one forward pass
func (m *NetModel) Infer(input InputImage) (Tensors, error) {
	img, err := input.Frame.Mat()
	if err != nil {
		return Tensors{}, err
	}
	defer img.Close()

	size := image.Point{X: input.Frame.Width, Y: input.Frame.Height}
	mean := gocv.NewScalar(input.Mean, input.Mean, input.Mean, 0)
	blob := gocv.BlobFromImage(img, input.Scale, size, mean, false, false)
	defer blob.Close()

	m.neuralNetwork.SetInput(blob, "")
	outputs := m.neuralNetwork.ForwardLayers(m.layersNames)
	defer func() {
		for i := range outputs {
			_ = outputs[i].Close()
		}
	}()

	return assignOutputs(outputs)
}

// assignOutputs matches outputs by channel count: 17 heatmaps, 34 offsets and
// two 32 channel displacement maps, forward first
func assignOutputs(outputs []gocv.Mat) (Tensors, error) {
	var tensors Tensors
	displacements := 0
	for i := range outputs {
		t, err := matToTensor(outputs[i])
		if err != nil {
			return Tensors{}, err
		}
		switch t.Shape[0] {
		case NumKeypoints:
			tensors.Heatmaps = t
		case 2 * NumKeypoints:
			tensors.Offsets = t
		default:
			if displacements == 0 {
				tensors.DisplacementFwd = t
			} else {
				tensors.DisplacementBwd = t
			}
			displacements++
		}
	}
	if tensors.Heatmaps.Data == nil || tensors.Offsets.Data == nil {
		return Tensors{}, errors.Errorf("network returned %d outputs without heatmaps and offsets", len(outputs))
	}
	return tensors, nil
}

func matToTensor(m gocv.Mat) (Tensor, error) {
	shape := m.Size()
	if len(shape) == 4 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 3 {
		return Tensor{}, errors.Errorf("unexpected output shape %v", m.Size())
	}
	data, err := m.DataPtrFloat32()
	if err != nil {
		return Tensor{}, errors.Wrap(err, "Can't extract data")
	}
	return Tensor{Shape: shape, Data: append([]float32(nil), data...)}, nil
}

// Close Free memory for the network
func (m *NetModel) Close() error {
	return m.neuralNetwork.Close()
}
