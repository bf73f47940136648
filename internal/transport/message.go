package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/auv.localiser/internal/config"
	"github.com/banshee-data/auv.localiser/internal/measurement"
	"github.com/banshee-data/auv.localiser/internal/particle"
	"github.com/banshee-data/auv.localiser/internal/pose"
)

// TopicStaticTransforms is the fixed topic carrying parent←child offsets.
const TopicStaticTransforms = "tf_static"

var (
	// ErrUnknownTopic is returned for a line whose topic is not subscribed.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrMalformedMessage is returned for a line that does not decode.
	ErrMalformedMessage = errors.New("malformed message")
)

// Kind identifies which payload a decoded Message carries.
type Kind int

const (
	KindOdometry Kind = iota
	KindPing
	KindTransform
)

func (k Kind) String() string {
	switch k {
	case KindOdometry:
		return "odometry"
	case KindPing:
		return "ping"
	case KindTransform:
		return "transform"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// wireMessage is the JSON line layout shared by every topic. Stamps are
// seconds since the Unix epoch.
type wireMessage struct {
	Topic   string    `json:"topic"`
	Stamp   float64   `json:"stamp,omitempty"`
	Pose    []float64 `json:"pose,omitempty"`
	Linear  []float64 `json:"linear,omitempty"`
	Angular []float64 `json:"angular,omitempty"`
	Ranges  []float64 `json:"ranges,omitempty"`
	Beams   []float64 `json:"beams,omitempty"`
	Parent  string    `json:"parent,omitempty"`
	Child   string    `json:"child,omitempty"`
}

// Message is one decoded line. Exactly one payload is set, selected by Kind.
type Message struct {
	Kind      Kind
	Motion    particle.MotionSample
	Ping      measurement.Measurement
	Transform config.StaticTransform
}

// Decoder maps configured topic names onto message kinds.
type Decoder struct {
	OdometryTopic string
	PingsTopic    string
}

// NewDecoder returns a Decoder for the topics named in cfg.
func NewDecoder(cfg *config.FilterConfig) Decoder {
	return Decoder{
		OdometryTopic: cfg.GetOdometryTopic(),
		PingsTopic:    cfg.GetPingsTopic(),
	}
}

// Decode parses a single JSON line.
func (d Decoder) Decode(line string) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch w.Topic {
	case d.OdometryTopic:
		if len(w.Pose) != config.PoseDims || len(w.Linear) != 3 || len(w.Angular) != 3 {
			return Message{}, fmt.Errorf("%w: odometry needs pose[6], linear[3], angular[3]", ErrMalformedMessage)
		}
		s := particle.MotionSample{
			Stamp: stampTime(w.Stamp),
			Pose:  pose.FromVector(w.Pose),
		}
		copy(s.Linear[:], w.Linear)
		copy(s.Angular[:], w.Angular)
		return Message{Kind: KindOdometry, Motion: s}, nil

	case d.PingsTopic:
		m := measurement.Measurement{
			Stamp:  stampTime(w.Stamp),
			Ranges: w.Ranges,
			Beams:  w.Beams,
		}
		if err := m.Validate(); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return Message{Kind: KindPing, Ping: m}, nil

	case TopicStaticTransforms:
		if w.Parent == "" || w.Child == "" || len(w.Pose) != config.PoseDims {
			return Message{}, fmt.Errorf("%w: transform needs parent, child and pose[6]", ErrMalformedMessage)
		}
		return Message{Kind: KindTransform, Transform: config.StaticTransform{
			Parent: w.Parent,
			Child:  w.Child,
			Pose:   w.Pose,
		}}, nil
	}
	return Message{}, fmt.Errorf("%w: %q", ErrUnknownTopic, w.Topic)
}

// EncodeOdometry renders a motion sample as a line on topic.
func EncodeOdometry(topic string, s particle.MotionSample) (string, error) {
	v := s.Pose.Vector()
	return encode(wireMessage{
		Topic:   topic,
		Stamp:   stampSeconds(s.Stamp),
		Pose:    v[:],
		Linear:  s.Linear[:],
		Angular: s.Angular[:],
	})
}

// EncodePing renders a multibeam ping as a line on topic.
func EncodePing(topic string, m measurement.Measurement) (string, error) {
	return encode(wireMessage{
		Topic:  topic,
		Stamp:  stampSeconds(m.Stamp),
		Ranges: m.Ranges,
		Beams:  m.Beams,
	})
}

// EncodeTransform renders a static transform line.
func EncodeTransform(t config.StaticTransform) (string, error) {
	return encode(wireMessage{
		Topic:  TopicStaticTransforms,
		Parent: t.Parent,
		Child:  t.Child,
		Pose:   t.Pose,
	})
}

func encode(w wireMessage) (string, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func stampTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}

func stampSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
