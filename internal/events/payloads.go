package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// STREAM EVENTS
// =============================================================================

type StreamPhase string

const (
	StreamPhaseStart StreamPhase = "start"
	StreamPhaseDelta StreamPhase = "delta"
	StreamPhaseEnd   StreamPhase = "end"
)

// AssistantStreamPayload is raw generation output as produced upstream.
type AssistantStreamPayload struct {
	Phase        StreamPhase `json:"phase"`
	Content      string      `json:"content"`
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

func (AssistantStreamPayload) EventType() EventType { return EventAssistantStream }

// SmoothStreamPayload is the paced counterpart of AssistantStreamPayload.
// Index counts emitted pieces within a session.
type SmoothStreamPayload struct {
	Phase        StreamPhase `json:"phase"`
	Content      string      `json:"content"`
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

func (SmoothStreamPayload) EventType() EventType { return EventAssistantSmooth }

// =============================================================================
// TOOL EVENTS
// =============================================================================

type ToolCallPayload struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

func (ToolCallPayload) EventType() EventType { return EventToolCall }

// =============================================================================
// SESSION EVENTS
// =============================================================================

type SessionClosedPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (SessionClosedPayload) EventType() EventType { return EventSessionClosed }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return NewTypedEventWithSession(source, payload, "")
}

func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	return Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

// ExtractPayload decodes e.Payload into T. It fails when e is not of T's type.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetAssistantStreamPayload(e Event) (AssistantStreamPayload, bool) {
	return ExtractPayload[AssistantStreamPayload](e)
}

func GetSmoothStreamPayload(e Event) (SmoothStreamPayload, bool) {
	return ExtractPayload[SmoothStreamPayload](e)
}

func GetToolCallPayload(e Event) (ToolCallPayload, bool) {
	return ExtractPayload[ToolCallPayload](e)
}
