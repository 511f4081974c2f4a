package posenet

import (
	"fmt"
	"net"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"
	"github.com/projecthunt/reuseable"
	"github.com/vmihailenco/msgpack/v5"
)

// ActiveScoreThreshold A slot is reported active when its score is strictly above this
const ActiveScoreThreshold = 0.05

// PoseAddress returns the coordinates address of a 1-indexed slot
func PoseAddress(slot int) string {
	return fmt.Sprintf("/pose_%d", slot)
}

// ActiveAddress returns the activity address of a 1-indexed slot
func ActiveAddress(slot int) string {
	return fmt.Sprintf("/pose_%d_active", slot)
}

// MessageSink Delivers OSC messages, best effort
type MessageSink interface {
	SendMessage(msg *osc.Message) error
}

// Broadcaster Emits per-slot pose messages
type Broadcaster struct {
	sink     MessageSink
	encoding string
}

// NewBroadcaster creates a broadcaster for one of EncodingMsgpack or EncodingFlat
func NewBroadcaster(sink MessageSink, encoding string) (*Broadcaster, error) {
	switch encoding {
	case EncodingMsgpack, EncodingFlat:
	default:
		return nil, errors.Errorf("unknown telemetry encoding %q", encoding)
	}
	return &Broadcaster{sink: sink, encoding: encoding}, nil
}

// Broadcast sends, for each slot i, coordinates then active=true on slot i+1
// when the pose score is above ActiveScoreThreshold, active=false otherwise.
// Every message is attempted; the first failure is returned.
func (b *Broadcaster) Broadcast(poses []Pose) error {
	var firstErr error
	send := func(msg *osc.Message, err error) {
		if err == nil {
			err = b.sink.SendMessage(msg)
		}
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "send %s", msg.Address)
		}
	}

	for i := range poses {
		slot := i + 1
		if poses[i].Score > ActiveScoreThreshold {
			send(b.coordsMessage(slot, &poses[i]))
			send(b.activeMessage(slot, true))
		} else {
			send(b.activeMessage(slot, false))
		}
	}
	return firstErr
}

func (b *Broadcaster) coordsMessage(slot int, pose *Pose) (*osc.Message, error) {
	msg := osc.NewMessage(PoseAddress(slot))
	coords := pose.Coords()
	if b.encoding == EncodingFlat {
		for _, c := range coords {
			msg.Append(float32(c[0]), float32(c[1]))
		}
		return msg, nil
	}
	payload, err := msgpack.Marshal(coords)
	if err != nil {
		return msg, errors.Wrap(err, "Can't serialize keypoints")
	}
	msg.Append(payload)
	return msg, nil
}

func (b *Broadcaster) activeMessage(slot int, active bool) (*osc.Message, error) {
	msg := osc.NewMessage(ActiveAddress(slot))
	if b.encoding == EncodingFlat {
		msg.Append(active)
		return msg, nil
	}
	payload, err := msgpack.Marshal(active)
	if err != nil {
		return msg, errors.Wrap(err, "Can't serialize active flag")
	}
	msg.Append(payload)
	return msg, nil
}

// UDPMessageSink Writes each message as one datagram to a fixed destination
type UDPMessageSink struct {
	conn net.PacketConn
	dst  net.Addr
}

// NewUDPMessageSink opens a reusable local socket for sending to address
func NewUDPMessageSink(address string) (*UDPMessageSink, error) {
	dst, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't resolve telemetry address %s", address)
	}
	conn, err := reuseable.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, errors.Wrap(err, "Can't open telemetry socket")
	}
	return &UDPMessageSink{conn: conn, dst: dst}, nil
}

func (s *UDPMessageSink) SendMessage(msg *osc.Message) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = s.conn.WriteTo(data, s.dst)
	return err
}

func (s *UDPMessageSink) Close() error {
	return s.conn.Close()
}
