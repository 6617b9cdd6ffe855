// Package broadcast fans gate updates out to display clients.
//
// Every message is a self-describing JSON object with a "type" field. A
// message is serialised once into a Frame and the same bytes are written to
// every endpoint.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/futureproathletes/timing-gates/internal/gate"
	"github.com/futureproathletes/timing-gates/internal/units"
)

// Frame types.
const (
	TypeHello    = "hello"
	TypeDistance = "distance"
	TypeStart    = "start"
	TypeFinish   = "finish"
	TypeReset    = "reset"
)

var ErrInvalidFrame = errors.New("invalid client frame")

// Frame is a serialised message. Data must not be modified once the frame
// has been broadcast.
type Frame struct {
	Type string
	Data []byte
}

// IsDistance reports whether the frame may be superseded by a newer one.
func (f Frame) IsDistance() bool { return f.Type == TypeDistance }

// Hello is sent to each endpoint when it joins. It carries the configuration
// a display needs to interpret the stream; it never carries run state.
type Hello struct {
	SessionID           string `json:"session_id"`
	PresenceThresholdCM int    `json:"presence_threshold_cm"`
	ChangeThresholdCM   int    `json:"change_threshold_cm"`
	Unit                string `json:"unit"`
	Version             string `json:"version"`
}

type helloMessage struct {
	Type string `json:"type"`
	Hello
}

type distanceMessage struct {
	Type     string `json:"type"`
	Distance int    `json:"distance"`
	Unit     string `json:"unit"`
	Ts       int64  `json:"ts"`
}

type eventMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	StartTs   *int64 `json:"start_ts,omitempty"`
	ElapsedMs *int64 `json:"elapsed_ms,omitempty"`
}

func encode(frameType string, v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s frame: %w", frameType, err)
	}
	return Frame{Type: frameType, Data: data}, nil
}

// EncodeHello builds the per-connection hello frame.
func EncodeHello(h Hello) (Frame, error) {
	if h.Unit == "" {
		h.Unit = units.Centimeters
	}
	return encode(TypeHello, helloMessage{Type: TypeHello, Hello: h})
}

// EncodeDistance builds a distance update from a significant sample.
func EncodeDistance(s gate.Sample) (Frame, error) {
	return encode(TypeDistance, distanceMessage{
		Type:     TypeDistance,
		Distance: s.DistanceCM,
		Unit:     units.Centimeters,
		Ts:       s.CapturedAtMs,
	})
}

// EncodeEvent builds a start, finish or reset frame.
func EncodeEvent(e gate.Event) (Frame, error) {
	msg := eventMessage{Ts: e.AtMs}
	switch e.Kind {
	case gate.Start:
		msg.Type = TypeStart
	case gate.Finish:
		msg.Type = TypeFinish
		start, elapsed := e.StartedAtMs, e.ElapsedMs
		msg.StartTs = &start
		msg.ElapsedMs = &elapsed
	case gate.Reset:
		msg.Type = TypeReset
	default:
		return Frame{}, fmt.Errorf("encode event: unknown kind %v", e.Kind)
	}
	return encode(msg.Type, msg)
}

// ClientMessage is a frame sent by a display.
type ClientMessage struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses a display frame. Frames without a type are
// rejected; unknown types are returned for the caller to ignore.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if msg.Type == "" {
		return ClientMessage{}, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	return msg, nil
}
