package chunks

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMissingType = errors.New("chunk has no type")

// Marshal encodes a chunk as a flat JSON object tagged with "type".
func Marshal(c Chunk) ([]byte, error) {
	if r, ok := c.(Raw); ok {
		m := make(map[string]any, len(r.Payload)+1)
		for k, v := range r.Payload {
			m[k] = v
		}
		m["type"] = r.Kind
		return json.Marshal(m)
	}

	m, err := toMap(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.ChunkType(), err)
	}
	m["type"] = string(c.ChunkType())
	return json.Marshal(m)
}

// Unmarshal decodes a chunk produced by Marshal. Unknown types decode to Raw.
func Unmarshal(data []byte) (Chunk, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}

	switch head.Type {
	case "":
		return nil, ErrMissingType
	case TypeTextDelta:
		return decode[TextDelta](data)
	case TypeStepFinish:
		return decode[StepFinish](data)
	case TypeToolCall:
		return decode[ToolCall](data)
	case TypeReasoning:
		return decode[ReasoningDelta](data)
	case TypeError:
		return decode[Error](data)
	default:
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		delete(payload, "type")
		return Raw{Kind: string(head.Type), Payload: payload}, nil
	}
}

func decode[T Chunk](data []byte) (Chunk, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", v.ChunkType(), err)
	}
	return v, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	result := make(map[string]any)
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}
