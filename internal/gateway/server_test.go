package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	wsclient "github.com/dohr-michael/smoothstream/clients/ws"
	"github.com/dohr-michael/smoothstream/internal/chunks"
	"github.com/dohr-michael/smoothstream/internal/events"
	"github.com/dohr-michael/smoothstream/internal/relay"
	"github.com/dohr-michael/smoothstream/internal/smooth"
	"github.com/dohr-michael/smoothstream/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *events.Bus) {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	factory := smooth.NewFactory(smooth.Config{Delay: 0, Chunking: smooth.ChunkWord})
	srv := NewServer(bus, factory, "localhost", 0)
	t.Cleanup(func() { srv.hub.Close() })
	return srv, bus
}

func dial(t *testing.T, srv *Server) *wsclient.Client {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	client, err := wsclient.Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status %q, got %q", "ok", body["status"])
	}
}

func TestHandleEvents_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty array, got %d items", len(body))
	}
}

func TestHandleEvents_BadLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=abc", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestHandleSmooth(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want []string
	}{
		{"word", `{"text":"Hello world this"}`, []string{"Hello ", "world ", "this"}},
		{"line", `{"text":"abc\ndef","chunking":"line"}`, []string{"abc\n", "def"}},
		{"empty", `{"text":""}`, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/smooth", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
			}
			var resp smoothResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if len(resp.Pieces) != len(tt.want) {
				t.Fatalf("expected %q, got %q", tt.want, resp.Pieces)
			}
			for i := range tt.want {
				if resp.Pieces[i] != tt.want[i] {
					t.Errorf("piece %d: expected %q, got %q", i, tt.want[i], resp.Pieces[i])
				}
			}
		})
	}
}

func TestHandleSmooth_BadChunking(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/smooth", bytes.NewBufferString(`{"text":"x","chunking":"sentence"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestHandleTranscript(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1/transcript", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without recorder, got %d", w.Code)
	}

	rec, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()
	srv.SetRecorder(rec)

	e := events.NewTypedEventWithSession(events.SourceSmoother,
		events.SmoothStreamPayload{Phase: events.StreamPhaseDelta, Content: "hi ", Index: 1}, "s1")
	if err := rec.Record(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/transcript", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Text   string `json:"text"`
		Pieces int    `json:"pieces"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Text != "hi " || body.Pieces != 1 {
		t.Errorf("unexpected transcript %+v", body)
	}
}

func TestWSPushSmoothsChunks(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dial(t, srv)

	var got []chunks.Chunk
	collect := func(c chunks.Chunk) { got = append(got, c) }

	for _, c := range []chunks.Chunk{
		chunks.TextDelta{Text: "Hello "},
		chunks.TextDelta{Text: "world this"},
		chunks.ToolCall{Name: "lookup"},
		chunks.StepFinish{FinishReason: "stop"},
	} {
		id, err := client.Push(c)
		if err != nil {
			t.Fatal(err)
		}
		if err := client.AwaitResponse(id, collect); err != nil {
			t.Fatal(err)
		}
	}

	want := []chunks.Chunk{
		chunks.TextDelta{Text: "Hello "},
		chunks.TextDelta{Text: "world "},
		chunks.ToolCall{Name: "lookup"},
		chunks.TextDelta{Text: "this"},
		chunks.StepFinish{FinishReason: "stop"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d: expected %#v, got %#v", i, want[i], got[i])
		}
	}
}

func TestWSFlush(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dial(t, srv)

	id, err := client.Push(chunks.TextDelta{Text: "tail"})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.AwaitResponse(id, func(c chunks.Chunk) {
		t.Errorf("unexpected chunk before flush: %#v", c)
	}); err != nil {
		t.Fatal(err)
	}

	var got []chunks.Chunk
	id, err = client.Flush()
	if err != nil {
		t.Fatal(err)
	}
	if err := client.AwaitResponse(id, func(c chunks.Chunk) { got = append(got, c) }); err != nil {
		t.Fatal(err)
	}
	if chunks.Text(got) != "tail" {
		t.Errorf("expected flushed tail, got %q", chunks.Text(got))
	}
}

func TestWSPushRejectsBadChunk(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dial(t, srv)

	id, err := client.Push(chunks.Raw{Kind: ""})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.AwaitResponse(id, nil); err == nil {
		t.Fatal("expected error for chunk without type")
	}
}

func TestWSPublishThroughRelay(t *testing.T) {
	srv, bus := newTestServer(t)
	r := relay.New(relay.Config{
		EventBus: bus,
		Factory:  smooth.NewFactory(smooth.Config{Delay: 0, Chunking: smooth.ChunkWord}),
	})
	defer r.Close()

	client := dial(t, srv)

	id, err := client.Subscribe("s1")
	if err != nil {
		t.Fatal(err)
	}
	if err := client.AwaitResponse(id, nil); err != nil {
		t.Fatal(err)
	}

	for _, p := range []events.AssistantStreamPayload{
		{Phase: events.StreamPhaseDelta, Content: "one two"},
		{Phase: events.StreamPhaseEnd},
	} {
		if _, err := client.Publish("s1", p); err != nil {
			t.Fatal(err)
		}
	}

	// Responses and smoothed events interleave on the connection.
	var text strings.Builder
	for done := false; !done; {
		frame, err := client.ReadFrame()
		if err != nil {
			t.Fatal(err)
		}
		switch {
		case frame.Type == "res":
			if frame.OK == nil || !*frame.OK {
				t.Fatalf("publish failed: %s", frame.Error)
			}
		case frame.Event == string(events.EventAssistantSmooth):
			var e events.Event
			if err := json.Unmarshal(frame.Payload, &e); err != nil {
				t.Fatal(err)
			}
			p, ok := events.GetSmoothStreamPayload(e)
			if !ok {
				t.Fatalf("bad payload %v", e.Payload)
			}
			if p.Phase == events.StreamPhaseEnd {
				done = true
				continue
			}
			text.WriteString(p.Content)
		}
	}
	if text.String() != "one two" {
		t.Errorf("expected %q, got %q", "one two", text.String())
	}
}
