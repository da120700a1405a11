package ws

import (
	"encoding/json"

	"github.com/dohr-michael/smoothstream/internal/chunks"
)

// FrameType represents the type of WebSocket frame.
type FrameType string

const (
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
	FrameTypeEvent    FrameType = "event"
	FrameTypeChunk    FrameType = "chunk"
)

// Method represents a WebSocket request method.
type Method string

const (
	// MethodPush runs one chunk through the connection's smoothing stage.
	// Smoothed output comes back as chunk frames.
	MethodPush Method = "push"
	// MethodFlush emits whatever the connection's stage still buffers.
	MethodFlush Method = "flush"
	// MethodPublish puts a raw assistant.stream event on the bus.
	MethodPublish Method = "publish"
	// MethodSubscribe selects the session whose smoothed bus events the
	// client receives. An empty session receives all of them.
	MethodSubscribe Method = "subscribe"
)

// Frame is the WebSocket protocol envelope.
type Frame struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Method    Method          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Event     string          `json:"event,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// MarshalFrame serializes a Frame to JSON bytes.
func MarshalFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFrame deserializes JSON bytes into a Frame.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// NewEventFrame creates a Frame for broadcasting an event.
func NewEventFrame(event string, sessionID string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:      FrameTypeEvent,
		Event:     event,
		SessionID: sessionID,
		Payload:   data,
	}, nil
}

// NewChunkFrame wraps a smoothed chunk.
func NewChunkFrame(c chunks.Chunk) (Frame, error) {
	data, err := chunks.Marshal(c)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeChunk, Payload: data}, nil
}

// NewPushFrame builds the request that pushes c into the smoothing stage.
func NewPushFrame(id string, c chunks.Chunk) (Frame, error) {
	data, err := chunks.Marshal(c)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: MethodPush, Params: data}, nil
}

// Chunk decodes the chunk carried by a chunk frame.
func (f Frame) Chunk() (chunks.Chunk, error) {
	return chunks.Unmarshal(f.Payload)
}

// NewResponseFrame creates a response Frame.
func NewResponseFrame(id string, ok bool, payload any, errMsg string) (Frame, error) {
	f := Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: errMsg,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = data
	}
	return f, nil
}
