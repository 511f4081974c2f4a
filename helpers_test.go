package posenet

import (
	"io"
	"log/slog"
	"sync"

	"github.com/hypebeast/go-osc/osc"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gradientFrame gives every row a distinct value so flips are observable
func gradientFrame(width, height int, format ColorFormat) FrameBuffer {
	f := NewFrameBuffer(width, height, format)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := f.At(x, y)
			px[0] = byte(y)
			px[1] = byte(x)
			px[2] = byte(x + y)
			if format == FormatRGBA {
				px[3] = 255
			}
		}
	}
	return f
}

type fakeModel struct {
	stride int
	inputs []InputImage
	err    error
}

func (m *fakeModel) OutputStride() int { return m.stride }

func (m *fakeModel) Infer(input InputImage) (Tensors, error) {
	m.inputs = append(m.inputs, input)
	return Tensors{}, m.err
}

type fakeDecoder struct {
	poses  []Pose
	params []DecodeParams
	err    error
}

func (d *fakeDecoder) Decode(_ Tensors, params DecodeParams) ([]Pose, error) {
	d.params = append(d.params, params)
	out := make([]Pose, len(d.poses))
	copy(out, d.poses)
	return out, d.err
}

// markDrawer copies the frame and paints pixel (0, 0) white
type markDrawer struct {
	calls int
}

func (d *markDrawer) DrawOverlay(frame FrameBuffer, _ []Pose, _, _ float64) (FrameBuffer, error) {
	d.calls++
	out := frame.Clone()
	for i := range out.At(0, 0) {
		out.At(0, 0)[i] = 255
	}
	return out, nil
}

type recordingSink struct {
	mu       sync.Mutex
	messages []*osc.Message
	err      error
}

func (s *recordingSink) SendMessage(msg *osc.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return s.err
}

func (s *recordingSink) addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Address
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// closingDisplay requests close after a number of presents
type closingDisplay struct {
	HeadlessDisplay
	after int
}

func (d *closingDisplay) Present(frame FrameBuffer) error {
	_ = d.HeadlessDisplay.Present(frame)
	if d.Presented() >= d.after {
		d.RequestClose()
	}
	return nil
}

func poseWithScore(score float64) Pose {
	p := Pose{Score: score}
	for i := range p.Keypoints {
		p.Keypoints[i] = Keypoint{Y: float64(10 * i), X: float64(20 * i), Score: score}
	}
	return p
}

// eventLog records the order in which collaborators were called
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type loggingMessageSink struct {
	log *eventLog
}

func (s *loggingMessageSink) SendMessage(msg *osc.Message) error {
	s.log.add(msg.Address)
	return nil
}

// loggingTransport is a Directory whose sinks record every Send
type loggingTransport struct {
	*Directory
	log *eventLog
}

func (t *loggingTransport) Publish(name string, width, height int) (TextureSink, error) {
	sink, err := t.Directory.Publish(name, width, height)
	if err != nil {
		return nil, err
	}
	return &loggingTextureSink{TextureSink: sink, log: t.log}, nil
}

type loggingTextureSink struct {
	TextureSink
	log *eventLog
}

func (s *loggingTextureSink) Send(tex *Texture, flip bool) error {
	s.log.add("send")
	return s.TextureSink.Send(tex, flip)
}
