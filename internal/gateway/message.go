package gateway

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/auralis/auralis-go/internal/errors"
)

// EventType tags one stream message.
type EventType string

const (
	EventStreamStart       EventType = "stream-start"
	EventStreamStop        EventType = "stream-stop"
	EventAudioData         EventType = "audio-data"
	EventProcessingStatus  EventType = "processing-status"
	EventError             EventType = "error"
	EventHeadPosition      EventType = "head-position"
	EventEnhancementStatus EventType = "enhancement-status"
	EventBufferStatus      EventType = "buffer-status"
	EventLatencyReport     EventType = "latency-report"
)

// bytesPerSample is the wire size of one sample: float32, little endian.
const bytesPerSample = 4

// StreamMessage is one framed message on the stream socket, msgpack encoded
// inside a binary websocket frame. Messages exist per frame and are never
// persisted.
type StreamMessage struct {
	Event     EventType     `msgpack:"event"`
	Timestamp int64         `msgpack:"timestamp"` // sender clock, microseconds since the Unix epoch
	Data      *FrameData    `msgpack:"data,omitempty"`
	Status    *StreamStatus `msgpack:"status,omitempty"`
}

// FrameData carries the event specific payload. Sequence numbers are 16 bit
// and wrap from 65535 back to 0; consumers must treat the wrap as expected,
// not as loss. On error frames Sequence echoes the inbound frame the error
// refers to.
type FrameData struct {
	Config    *StreamConfig `msgpack:"config,omitempty"`
	Buffer    []byte        `msgpack:"buffer,omitempty"` // float32 little endian samples
	Sequence  uint16        `msgpack:"sequence"`
	Timestamp int64         `msgpack:"timestamp,omitempty"` // sender clock, microseconds
	Checksum  uint64        `msgpack:"checksum,omitempty"`  // xxhash64 of Buffer
	Position  *HeadPosition `msgpack:"position,omitempty"`  // head-position payload
	Enhanced  *bool         `msgpack:"enhanced,omitempty"`  // enhancement-status payload
	LatencyMs float64       `msgpack:"latencyMs,omitempty"` // latency-report payload
	Message   string        `msgpack:"message,omitempty"`   // error payload
	Code      string        `msgpack:"code,omitempty"`      // error category
}

// StreamConfig announces the negotiated audio format on stream-start.
type StreamConfig struct {
	SampleRate   int     `msgpack:"sampleRate" json:"sampleRate"`
	BitDepth     int     `msgpack:"bitDepth" json:"bitDepth"`
	Channels     int     `msgpack:"channels" json:"channels"`
	BufferSize   int     `msgpack:"bufferSize" json:"bufferSize"`
	MaxLatencyMs float64 `msgpack:"maxLatencyMs" json:"maxLatencyMs"`
	Tier         string  `msgpack:"tier" json:"tier"`
}

// StreamStatus is the per connection quality block attached to outbound
// frames. Underruns and the buffer level come from playback side reports;
// everything else is measured by the gateway.
type StreamStatus struct {
	IsActive        bool    `msgpack:"isActive" json:"isActive"`
	Latency         float64 `msgpack:"latency" json:"latency"`         // milliseconds, smoothed
	BufferLevel     int     `msgpack:"bufferLevel" json:"bufferLevel"` // 0 to 100
	Dropouts        uint64  `msgpack:"dropouts" json:"dropouts"`
	PacketsLost     uint64  `msgpack:"packetsLost" json:"packetsLost"`
	Jitter          float64 `msgpack:"jitter" json:"jitter"` // milliseconds, smoothed deviation
	ClockDrift      float64 `msgpack:"clockDrift" json:"clockDrift"`
	BufferUnderruns uint64  `msgpack:"bufferUnderruns" json:"bufferUnderruns"`
	BufferOverruns  uint64  `msgpack:"bufferOverruns" json:"bufferOverruns"`
}

// HeadPosition is the listener pose reported by head tracking clients.
type HeadPosition struct {
	X     float64 `msgpack:"x" json:"x"`
	Y     float64 `msgpack:"y" json:"y"`
	Z     float64 `msgpack:"z" json:"z"`
	Yaw   float64 `msgpack:"yaw" json:"yaw"`
	Pitch float64 `msgpack:"pitch" json:"pitch"`
	Roll  float64 `msgpack:"roll" json:"roll"`
}

// Encode serializes the message for one binary websocket frame.
func (m *StreamMessage) Encode() ([]byte, error) {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, errors.New(err).
			Component("gateway").
			Category(errors.CategoryWebSocket).
			Context("event", string(m.Event)).
			Build()
	}
	return b, nil
}

// DecodeMessage parses one inbound frame.
func DecodeMessage(b []byte) (*StreamMessage, error) {
	var m StreamMessage
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, errors.New(err).
			Component("gateway").
			Category(errors.CategoryValidation).
			Context("frame_bytes", len(b)).
			Build()
	}
	if m.Event == "" {
		return nil, errors.Newf("stream message has no event type").
			Component("gateway").
			Category(errors.CategoryValidation).
			Build()
	}
	return &m, nil
}

// Checksum computes the integrity checksum of an audio payload.
func Checksum(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// EncodeSamples packs samples into the wire payload format.
func EncodeSamples(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*bytesPerSample:], math.Float32bits(s))
	}
	return out
}

// DecodeSamples unpacks a wire payload into samples.
func DecodeSamples(payload []byte) ([]float32, error) {
	if len(payload)%bytesPerSample != 0 {
		return nil, errors.Newf("payload length %d is not a whole number of samples", len(payload)).
			Component("gateway").
			Category(errors.CategoryValidation).
			Build()
	}
	out := make([]float32, len(payload)/bytesPerSample)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*bytesPerSample:]))
	}
	return out, nil
}
