package gateway

import (
	"encoding/json"
	"errors"
)

// Frame is the wire envelope in both directions: {"event": "...", "data": {...}}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var errMalformedFrame = errors.New("gateway: malformed frame")

func encodeFrame(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

func decodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
		return Frame{}, errMalformedFrame
	}
	return f, nil
}

// decodeData unmarshals the frame payload; an absent payload is malformed.
func decodeData(f Frame, dst any) error {
	if len(f.Data) == 0 {
		return errMalformedFrame
	}
	if err := json.Unmarshal(f.Data, dst); err != nil {
		return errMalformedFrame
	}
	return nil
}
