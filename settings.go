package posenet

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSettings Configuration rejected at startup
var ErrInvalidSettings = errors.New("invalid settings")

// Source kinds
const (
	// SourceDirectory Texture is announced by another party sharing the directory.
	// Only usable when the directory is shared within one process.
	SourceDirectory = "directory"
	SourceWebcam    = "webcam"
	SourceVideo     = "video"
	SourceCamera    = "camera"
)

// Telemetry payload encodings
const (
	EncodingMsgpack = "msgpack"
	EncodingFlat    = "flat"
)

// supportedModels MobileNet v1 depth multipliers the pose model ships in
var supportedModels = map[int]string{
	50:  "mobilenet_v1_050",
	75:  "mobilenet_v1_075",
	100: "mobilenet_v1_100",
	101: "mobilenet_v1_101",
}

// AppSettings Settings for application
type AppSettings struct {
	Texture               TextureSettings       `json:"texture" yaml:"texture"`
	Source                SourceSettings        `json:"source" yaml:"source"`
	NeuralNetworkSettings NeuralNetworkSettings `json:"neural_network_settings" yaml:"neural_network_settings"`
	Telemetry             TelemetrySettings     `json:"telemetry" yaml:"telemetry"`
	Display               DisplaySettings       `json:"display" yaml:"display"`
	MjpegSettings         MjpegSettings         `json:"mjpeg_settings" yaml:"mjpeg_settings"`
}

// TextureSettings Inbound and outbound shared texture
type TextureSettings struct {
	SourceName string `json:"source_name" yaml:"source_name"`
	SinkName   string `json:"sink_name" yaml:"sink_name"`
	Width      int    `json:"width" yaml:"width"`
	Height     int    `json:"height" yaml:"height"`
}

// SourceSettings Who publishes the inbound texture
type SourceSettings struct {
	Kind     string `json:"kind" yaml:"kind"`
	DeviceID int    `json:"device_id" yaml:"device_id"`
	Path     string `json:"path" yaml:"path"`
	// UDP listen address for the camera source
	Address string `json:"address" yaml:"address"`
}

// NeuralNetworkSettings Neural network
type NeuralNetworkSettings struct {
	Model        int    `json:"model" yaml:"model"`
	Weights      string `json:"weights" yaml:"weights"`
	Backend      string `json:"backend" yaml:"backend"`
	Target       string `json:"target" yaml:"target"`
	OutputStride int    `json:"output_stride" yaml:"output_stride"`
	// Accepted for compatibility, input is always read at scale 1.0
	ScaleFactor float64 `json:"scale_factor" yaml:"scale_factor"`
}

// TelemetrySettings Datagram destination for keypoint messages
type TelemetrySettings struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Encoding string `json:"encoding" yaml:"encoding"`
}

// Address returns host:port
func (t TelemetrySettings) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// DisplaySettings Local window
type DisplaySettings struct {
	ImshowEnable bool `json:"imshow_enable" yaml:"imshow_enable"`
}

// MjpegSettings settings for output
type MjpegSettings struct {
	Enable bool `json:"enable" yaml:"enable"`
	Port   int  `json:"port" yaml:"port"`
}

// DefaultSettings returns the settings used when no file is given
func DefaultSettings() *AppSettings {
	return &AppSettings{
		Texture: TextureSettings{
			SourceName: "TDSyphonSpoutOut",
			SinkName:   "Posenet",
			Width:      640,
			Height:     480,
		},
		Source: SourceSettings{
			Kind:    SourceWebcam,
			Address: "0.0.0.0:5000",
		},
		NeuralNetworkSettings: NeuralNetworkSettings{
			Model:        101,
			Backend:      "default",
			Target:       "cpu",
			OutputStride: 16,
			ScaleFactor:  0.7125,
		},
		Telemetry: TelemetrySettings{
			Host:     "127.0.0.1",
			Port:     7000,
			Encoding: EncodingMsgpack,
		},
		Display:       DisplaySettings{ImshowEnable: true},
		MjpegSettings: MjpegSettings{Port: 8080},
	}
}

// NewSettings Create new AppSettings from content of configuration file.
// Values missing from the file keep their defaults. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON.
func NewSettings(fileName string) (*AppSettings, error) {
	content, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read settings file")
	}

	settings := DefaultSettings()
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, settings)
	default:
		err = json.Unmarshal(content, settings)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Can't parse settings file %s", fileName)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate rejects configurations the pipeline cannot start with
func (s *AppSettings) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrInvalidSettings, format, args...)
	}

	if _, ok := supportedModels[s.NeuralNetworkSettings.Model]; !ok {
		return invalid("unsupported model %d", s.NeuralNetworkSettings.Model)
	}
	if s.NeuralNetworkSettings.OutputStride <= 0 {
		return invalid("output stride must be positive, got %d", s.NeuralNetworkSettings.OutputStride)
	}
	if s.NeuralNetworkSettings.ScaleFactor <= 0 {
		return invalid("scale factor must be positive, got %v", s.NeuralNetworkSettings.ScaleFactor)
	}
	if s.Texture.Width <= 0 || s.Texture.Height <= 0 {
		return invalid("texture size must be positive, got %dx%d", s.Texture.Width, s.Texture.Height)
	}
	if s.Texture.SourceName == "" {
		return invalid("texture source name is empty")
	}
	if s.Texture.SinkName == "" {
		return invalid("texture sink name is empty")
	}
	switch s.Source.Kind {
	case SourceDirectory, SourceWebcam:
	case SourceVideo:
		if s.Source.Path == "" {
			return invalid("video source needs a path")
		}
	case SourceCamera:
		if _, _, err := net.SplitHostPort(s.Source.Address); err != nil {
			return invalid("camera address %q: %v", s.Source.Address, err)
		}
	default:
		return invalid("unknown source kind %q", s.Source.Kind)
	}
	if s.Telemetry.Host == "" || s.Telemetry.Port <= 0 || s.Telemetry.Port > 65535 {
		return invalid("telemetry address %q", s.Telemetry.Address())
	}
	switch s.Telemetry.Encoding {
	case EncodingMsgpack, EncodingFlat:
	default:
		return invalid("unknown telemetry encoding %q", s.Telemetry.Encoding)
	}
	if s.MjpegSettings.Enable && (s.MjpegSettings.Port <= 0 || s.MjpegSettings.Port > 65535) {
		return invalid("mjpeg port %d", s.MjpegSettings.Port)
	}
	return nil
}

// ModelPath returns the weights file, derived from the model variant when unset
func (n NeuralNetworkSettings) ModelPath() string {
	if n.Weights != "" {
		return n.Weights
	}
	return filepath.Join("models", supportedModels[n.Model]+".onnx")
}

// ParseSize parses "WIDTHxHEIGHT"
func ParseSize(value string) (int, int, error) {
	parts := strings.Split(strings.ToLower(value), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("size %q is not WIDTHxHEIGHT", value)
	}
	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "size %q", value)
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "size %q", value)
	}
	return width, height, nil
}
