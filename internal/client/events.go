package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// StreamEvent is one frame from the gateway's event stream. Data stays raw
// so callers can re-encode or decode it per topic.
type StreamEvent struct {
	Type          string          `json:"type"`
	Topic         string          `json:"topic,omitempty"`
	Source        string          `json:"source,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// WatchEvents connects to the gateway event stream and invokes onEvent for
// every received frame until ctx is cancelled or the connection drops. A
// non-empty topics list narrows the subscription.
func (c *Client) WatchEvents(ctx context.Context, topics []string, onEvent func(StreamEvent)) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("client: parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/events/ws"

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("client: dial event stream: %w", err)
	}
	defer conn.Close()

	if len(topics) > 0 {
		cmd := struct {
			Type   string   `json:"type"`
			Topics []string `json:"topics"`
		}{Type: "subscribe", Topics: topics}
		if err := conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("client: subscribe to topics: %w", err)
		}
	}

	// Close the connection when ctx ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var frame StreamEvent
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("client: event stream closed: %w", err)
		}
		onEvent(frame)
	}
}
