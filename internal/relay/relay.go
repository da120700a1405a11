// Package relay smooths assistant stream events on the event bus.
//
// Raw assistant.stream events are routed to one smoothing transform per
// session and come back out as paced assistant.stream.smooth events.
package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dohr-michael/smoothstream/internal/chunks"
	"github.com/dohr-michael/smoothstream/internal/events"
	"github.com/dohr-michael/smoothstream/internal/smooth"
)

// kindStreamStart carries the start phase through the transform untouched.
const kindStreamStart = "stream-start"

// Relay bridges raw stream events to their smoothed counterpart.
type Relay struct {
	bus       *events.Bus
	factory   smooth.Factory
	logger    *slog.Logger
	queueSize int

	mu       sync.Mutex
	sessions map[string]*session

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

type session struct {
	id        string
	in        chan chunks.Chunk
	done      chan struct{}
	transform *smooth.Transform
	index     int
}

// Config contains configuration for the Relay.
type Config struct {
	EventBus *events.Bus
	Factory  smooth.Factory
	Logger   *slog.Logger
	// QueueSize bounds the chunks waiting for one session (default 256).
	QueueSize int
}

// New creates a Relay and subscribes it to the bus.
func New(cfg Config) *Relay {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Relay{
		bus:       cfg.EventBus,
		factory:   cfg.Factory,
		logger:    cfg.Logger,
		queueSize: cfg.QueueSize,
		sessions:  make(map[string]*session),
		ctx:       ctx,
		cancel:    cancel,
	}
	if r.factory == nil {
		r.factory = smooth.NewFactory(smooth.DefaultConfig())
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.queueSize <= 0 {
		r.queueSize = 256
	}

	r.unsubscribe = cfg.EventBus.Subscribe(r.handleEvent,
		events.EventAssistantStream,
		events.EventSessionClosed,
	)
	return r
}

// Close stops every session. Buffered text that was never flushed is dropped.
func (r *Relay) Close() {
	r.cancel()
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	r.wg.Wait()
}

// SetFactory changes the settings of sessions started from now on. Running
// sessions keep their transform.
func (r *Relay) SetFactory(f smooth.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = f
}

// Sessions returns the number of sessions with a live transform.
func (r *Relay) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Relay) handleEvent(e events.Event) {
	if e.Type == events.EventSessionClosed {
		r.closeSession(e.SessionID)
		return
	}

	c, ok := toChunk(e)
	if !ok {
		return
	}

	s := r.session(e.SessionID)
	select {
	case s.in <- c:
	case <-s.done:
		r.logger.Warn("smooth session stopped, chunk dropped", "session_id", e.SessionID)
	case <-r.ctx.Done():
	}
}

// session returns the live session for id, starting one if needed.
func (r *Relay) session(id string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		select {
		case <-s.done:
		default:
			return s
		}
	}

	s := &session{
		id:        id,
		in:        make(chan chunks.Chunk, r.queueSize),
		done:      make(chan struct{}),
		transform: r.factory(),
	}
	r.sessions[id] = s
	r.wg.Add(1)
	go r.run(s)
	return s
}

func (r *Relay) closeSession(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		close(s.in)
	}
}

func (r *Relay) run(s *session) {
	defer r.wg.Done()
	defer close(s.done)

	logger := r.logger.With("session_id", s.id)
	emit := func(c chunks.Chunk) error {
		return r.bus.PublishAsync(r.ctx, r.toEvent(s, c))
	}

	for {
		select {
		case c, ok := <-s.in:
			if !ok {
				if rest := s.transform.Buffered(); rest != "" {
					logger.Debug("session closed with unflushed text", "dropped", len(rest))
				}
				return
			}
			if err := s.transform.Process(r.ctx, c, emit); err != nil {
				if r.ctx.Err() == nil {
					logger.Error("smooth session failed", "error", err)
				}
				r.forget(s)
				return
			}
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Relay) forget(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.id] == s {
		delete(r.sessions, s.id)
	}
}

func toChunk(e events.Event) (chunks.Chunk, bool) {
	p, ok := events.GetAssistantStreamPayload(e)
	if !ok {
		return nil, false
	}
	switch p.Phase {
	case events.StreamPhaseStart:
		return chunks.Raw{Kind: kindStreamStart}, true
	case events.StreamPhaseDelta:
		return chunks.TextDelta{Text: p.Content}, true
	case events.StreamPhaseEnd:
		return chunks.StepFinish{FinishReason: p.FinishReason}, true
	default:
		return nil, false
	}
}

func (r *Relay) toEvent(s *session, c chunks.Chunk) events.Event {
	var p events.SmoothStreamPayload
	switch c := c.(type) {
	case chunks.TextDelta:
		s.index++
		p = events.SmoothStreamPayload{Phase: events.StreamPhaseDelta, Content: c.Text, Index: s.index}
	case chunks.StepFinish:
		p = events.SmoothStreamPayload{Phase: events.StreamPhaseEnd, FinishReason: c.FinishReason}
	default:
		p = events.SmoothStreamPayload{Phase: events.StreamPhaseStart}
	}
	return events.NewTypedEventWithSession(events.SourceSmoother, p, s.id)
}
