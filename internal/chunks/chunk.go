// Package chunks defines the events flowing through a text stream pipeline.
package chunks

// Type identifies the kind of a chunk.
type Type string

const (
	TypeTextDelta  Type = "text-delta"
	TypeStepFinish Type = "step-finish"
	TypeToolCall   Type = "tool-call"
	TypeReasoning  Type = "reasoning"
	TypeError      Type = "error"
)

// Chunk is one item of a stream. Kinds other than TextDelta and StepFinish
// are opaque to the smoothing stage and forwarded unchanged.
type Chunk interface {
	ChunkType() Type
}

// TextDelta is an incremental text fragment.
type TextDelta struct {
	Text string `json:"text"`
}

func (TextDelta) ChunkType() Type { return TypeTextDelta }

// Usage reports token counts for a generation step.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StepFinish marks the end of a generation step.
type StepFinish struct {
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	IsContinued  bool   `json:"is_continued,omitempty"`
}

func (StepFinish) ChunkType() Type { return TypeStepFinish }

type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

func (ToolCall) ChunkType() Type { return TypeToolCall }

type ReasoningDelta struct {
	Text string `json:"text"`
}

func (ReasoningDelta) ChunkType() Type { return TypeReasoning }

type Error struct {
	Message string `json:"message"`
}

func (Error) ChunkType() Type { return TypeError }

// Raw carries a chunk of a kind this package does not know about.
type Raw struct {
	Kind    string         `json:"-"`
	Payload map[string]any `json:"-"`
}

func (r Raw) ChunkType() Type { return Type(r.Kind) }

var (
	_ Chunk = TextDelta{}
	_ Chunk = StepFinish{}
	_ Chunk = ToolCall{}
	_ Chunk = ReasoningDelta{}
	_ Chunk = Error{}
	_ Chunk = Raw{}
)

// Text returns the concatenated text of all TextDelta chunks in cs.
func Text(cs []Chunk) string {
	var n int
	for _, c := range cs {
		if d, ok := c.(TextDelta); ok {
			n += len(d.Text)
		}
	}
	buf := make([]byte, 0, n)
	for _, c := range cs {
		if d, ok := c.(TextDelta); ok {
			buf = append(buf, d.Text...)
		}
	}
	return string(buf)
}
