// Package ws provides a WebSocket client for the smoothstream gateway.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/dohr-michael/smoothstream/internal/chunks"
	"github.com/dohr-michael/smoothstream/internal/events"
	wsprotocol "github.com/dohr-michael/smoothstream/internal/gateway/ws"
)

// Client is a WebSocket client for the gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the gateway WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

func (c *Client) nextID() string {
	return fmt.Sprintf("req-%d", atomic.AddUint64(&c.reqSeq, 1))
}

func (c *Client) write(frame wsprotocol.Frame) error {
	data, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return err
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// Push sends one chunk to the connection's smoothing stage and returns the
// request ID. Smoothed chunks arrive as chunk frames before the response.
func (c *Client) Push(chunk chunks.Chunk) (string, error) {
	id := c.nextID()
	frame, err := wsprotocol.NewPushFrame(id, chunk)
	if err != nil {
		return "", err
	}
	return id, c.write(frame)
}

// Flush asks the gateway to emit the stage's buffered remainder.
func (c *Client) Flush() (string, error) {
	id := c.nextID()
	return id, c.write(wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     id,
		Method: wsprotocol.MethodFlush,
	})
}

// Publish puts a raw stream event for sessionID on the gateway bus.
func (c *Client) Publish(sessionID string, payload events.AssistantStreamPayload) (string, error) {
	params, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	id := c.nextID()
	return id, c.write(wsprotocol.Frame{
		Type:      wsprotocol.FrameTypeRequest,
		ID:        id,
		Method:    wsprotocol.MethodPublish,
		Params:    params,
		SessionID: sessionID,
	})
}

// Subscribe starts delivery of smoothed bus events for sessionID.
func (c *Client) Subscribe(sessionID string) (string, error) {
	id := c.nextID()
	return id, c.write(wsprotocol.Frame{
		Type:      wsprotocol.FrameTypeRequest,
		ID:        id,
		Method:    wsprotocol.MethodSubscribe,
		SessionID: sessionID,
	})
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// AwaitResponse reads frames until the response to id arrives, passing every
// chunk frame seen on the way to onChunk.
func (c *Client) AwaitResponse(id string, onChunk func(chunks.Chunk)) error {
	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return err
		}
		switch frame.Type {
		case wsprotocol.FrameTypeChunk:
			chunk, err := frame.Chunk()
			if err != nil {
				return fmt.Errorf("decode chunk: %w", err)
			}
			if onChunk != nil {
				onChunk(chunk)
			}
		case wsprotocol.FrameTypeResponse:
			if frame.ID != id {
				continue
			}
			if frame.OK == nil || !*frame.OK {
				return fmt.Errorf("gateway: %s", frame.Error)
			}
			return nil
		}
	}
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	defer c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
