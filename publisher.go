package posenet

import (
	"context"
	"image"
	"log/slog"
	"net"
	"time"

	"github.com/mike1808/h264decoder/decoder"
	"github.com/pkg/errors"
	"github.com/projecthunt/reuseable"
	"gocv.io/x/gocv"
)

// udpHeaderSize Bytes of transport header in front of every H264 payload sent by the camera
const udpHeaderSize = 72

// FramePublisher Feeds a named texture in a Directory. Publishers stand in for
// the external application and run on their own goroutine.
type FramePublisher interface {
	Run(ctx context.Context) error
	Close() error
}

// ErrNoPublisher Source kind relies on a publisher outside this package
var ErrNoPublisher = errors.New("source kind has no built-in publisher")

// NewPublisher builds the publisher for the configured source kind.
// SourceDirectory fails with ErrNoPublisher: the texture must be announced by
// someone else sharing dir.
func NewPublisher(settings *AppSettings, dir *Directory, logger *slog.Logger) (FramePublisher, error) {
	tex := settings.Texture
	switch settings.Source.Kind {
	case SourceWebcam:
		capture, err := gocv.VideoCaptureDevice(settings.Source.DeviceID)
		if err != nil {
			return nil, errors.Wrap(err, "Can't open video capture")
		}
		return &CapturePublisher{dir: dir, name: tex.SourceName, width: tex.Width, height: tex.Height, capture: capture, logger: logger}, nil
	case SourceVideo:
		capture, err := gocv.OpenVideoCapture(settings.Source.Path)
		if err != nil {
			return nil, errors.Wrap(err, "Can't open video capture")
		}
		return &CapturePublisher{dir: dir, name: tex.SourceName, width: tex.Width, height: tex.Height, capture: capture, paced: true, logger: logger}, nil
	case SourceCamera:
		p, err := NewUDPPublisher(dir, tex.SourceName, tex.Width, tex.Height, settings.Source.Address, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case SourceDirectory:
		return nil, errors.Wrapf(ErrNoPublisher, "%q texture %q must be announced in-process", settings.Source.Kind, tex.SourceName)
	}
	return nil, errors.Errorf("unknown source kind %q", settings.Source.Kind)
}

// toPublishable scales a BGR capture to the texture size and converts it to RGB
func toPublishable(src gocv.Mat, width, height int) (FrameBuffer, error) {
	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(src, &scaled, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationDefault)
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(scaled, &rgb, gocv.ColorBGRToRGB)
	return FrameFromMat(rgb)
}

// publishState announces lazily on the first good frame and withdraws on exit
type publishState struct {
	dir    *Directory
	name   string
	width  int
	height int
	pub    *Publication
}

func (s *publishState) write(frame FrameBuffer) error {
	if s.pub == nil {
		pub, err := s.dir.Announce(s.name, s.width, s.height)
		if err != nil {
			return err
		}
		s.pub = pub
	}
	return s.pub.Write(frame)
}

func (s *publishState) withdraw() {
	if s.pub != nil {
		s.pub.Withdraw()
		s.pub = nil
	}
}

// CapturePublisher Publishes frames read from a webcam or a video file
type CapturePublisher struct {
	dir     *Directory
	name    string
	width   int
	height  int
	capture *gocv.VideoCapture
	paced   bool
	logger  *slog.Logger
}

func (p *CapturePublisher) Run(ctx context.Context) error {
	state := &publishState{dir: p.dir, name: p.name, width: p.width, height: p.height}
	defer state.withdraw()

	var pace <-chan time.Time
	if p.paced {
		fps := p.capture.Get(gocv.VideoCaptureFPS)
		if fps <= 0 {
			fps = 30
		}
		ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
		defer ticker.Stop()
		pace = ticker.C
	}

	img := gocv.NewMat()
	defer img.Close()

	for {
		if pace != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-pace:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		if ok := p.capture.Read(&img); !ok {
			p.logger.Info("can't read next frame, stop grabbing", "source", p.name)
			return nil
		}
		if img.Empty() {
			p.logger.Debug("empty frame, sleep for 400 ms", "source", p.name)
			time.Sleep(400 * time.Millisecond)
			continue
		}
		frame, err := toPublishable(img, p.width, p.height)
		if err != nil {
			p.logger.Warn("can't convert captured frame", "source", p.name, "err", err)
			continue
		}
		if err := state.write(frame); err != nil {
			return errors.Wrapf(err, "publish %q", p.name)
		}
	}
}

func (p *CapturePublisher) Close() error {
	return p.capture.Close()
}

// UDPPublisher Publishes H264 frames received from a camera over UDP
type UDPPublisher struct {
	dir     *Directory
	name    string
	width   int
	height  int
	conn    net.PacketConn
	decoder *decoder.H264Decoder
	logger  *slog.Logger
}

// NewUDPPublisher listens on address (SO_REUSEPORT) and prepares an H264 decoder
func NewUDPPublisher(dir *Directory, name string, width, height int, address string, logger *slog.Logger) (*UDPPublisher, error) {
	d, err := decoder.New(decoder.PixelFormatBGR)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create H264 decoder")
	}
	conn, err := reuseable.ListenPacket("udp4", address)
	if err != nil {
		d.Close()
		return nil, errors.Wrapf(err, "Can't listen on %s", address)
	}
	return &UDPPublisher{dir: dir, name: name, width: width, height: height, conn: conn, decoder: d, logger: logger}, nil
}

func (p *UDPPublisher) Run(ctx context.Context) error {
	state := &publishState{dir: p.dir, name: p.name, width: p.width, height: p.height}
	defer state.withdraw()

	buf := make([]byte, 1514)
	for ctx.Err() == nil {
		_ = p.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to read from camera socket")
		}
		if n < udpHeaderSize {
			continue
		}

		frames, err := p.decoder.Decode(buf[udpHeaderSize:n])
		if err != nil {
			p.logger.Debug("failed to decode H264 packet", "source", p.name, "err", err)
			continue
		}
		if len(frames) == 0 {
			continue
		}

		f := frames[0]
		frame, err := p.convert(f.Width, f.Height, f.Stride, f.Data)
		if err != nil {
			p.logger.Warn("can't convert decoded frame", "source", p.name, "err", err)
			continue
		}
		if err := state.write(frame); err != nil {
			return errors.Wrapf(err, "publish %q", p.name)
		}
	}
	return nil
}

func (p *UDPPublisher) convert(width, height, stride int, bgr []byte) (FrameBuffer, error) {
	packed, err := packRows(bgr, width, height, stride, 3)
	if err != nil {
		return FrameBuffer{}, err
	}
	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, packed)
	if err != nil {
		return FrameBuffer{}, errors.Wrap(err, "Can't wrap decoded frame")
	}
	defer mat.Close()
	return toPublishable(mat, p.width, p.height)
}

func (p *UDPPublisher) Close() error {
	p.decoder.Close()
	return p.conn.Close()
}

// packRows drops per-row padding from a decoded image whose rows are stride
// bytes apart. Tightly packed input is returned as is.
func packRows(data []byte, width, height, stride, channels int) ([]byte, error) {
	row := width * channels
	if stride == 0 {
		stride = row
	}
	if stride < row {
		return nil, errors.Errorf("stride %d is shorter than a %d pixel row", stride, width)
	}
	if need := stride*(height-1) + row; height > 0 && len(data) < need {
		return nil, errors.Errorf("decoded frame holds %d bytes, want %d", len(data), need)
	}
	if stride == row {
		return data[:row*height], nil
	}
	out := make([]byte, row*height)
	for y := 0; y < height; y++ {
		copy(out[y*row:(y+1)*row], data[y*stride:y*stride+row])
	}
	return out, nil
}
