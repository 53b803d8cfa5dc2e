package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTestClient drives a live WebSocket endpoint in tests. A
// background pump decodes inbound frames so tests can poll for the
// envelope types they care about while presence chatter keeps flowing.
type WebSocketTestClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	messages chan map[string]interface{}
	errs     chan error
	closing  chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewWebSocketTestClient dials serverURL and starts the read pump. A
// non-empty jwt is sent as a bearer Authorization header; pass "" for
// endpoints that take the token as a query parameter instead.
func NewWebSocketTestClient(serverURL string, jwt string) (*WebSocketTestClient, error) {
	header := http.Header{}
	if jwt != "" {
		header.Set("Authorization", "Bearer "+jwt)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(serverURL, header)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	c := &WebSocketTestClient{
		conn:     conn,
		messages: make(chan map[string]interface{}, 64),
		errs:     make(chan error, 1),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// SendEnvelope writes one raw envelope to the server.
func (c *WebSocketTestClient) SendEnvelope(envelope map[string]interface{}) error {
	select {
	case <-c.closing:
		return websocket.ErrCloseSent
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(envelope)
}

// SendIntent wraps payload in a typed client frame and sends it.
func (c *WebSocketTestClient) SendIntent(msgType string, payload map[string]interface{}) error {
	return c.SendEnvelope(map[string]interface{}{
		"type":    msgType,
		"payload": payload,
	})
}

// ReadMessageTimeout returns the next decoded frame. It reports
// context.DeadlineExceeded when nothing arrives within timeout, and
// (nil, nil) once the connection has closed cleanly.
func (c *WebSocketTestClient) ReadMessageTimeout(timeout time.Duration) (map[string]interface{}, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-c.messages:
		return frame, nil
	case <-c.done:
		// Drain whatever the pump parked before it exited.
		select {
		case frame := <-c.messages:
			return frame, nil
		case err := <-c.errs:
			return nil, err
		default:
			return nil, nil
		}
	case <-timer.C:
		return nil, context.DeadlineExceeded
	}
}

// Close tears the connection down. Safe to call more than once; later
// reads still drain frames the pump decoded before the close.
func (c *WebSocketTestClient) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closing)
		deadline := time.Now().Add(time.Second)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}

// readPump decodes inbound frames until the connection dies. Servers may
// coalesce several envelopes into one transport frame, so frames are
// split on newlines before decoding.
func (c *WebSocketTestClient) readPump() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					select {
					case c.errs <- err:
					default:
					}
				}
			}
			return
		}
		for _, raw := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(raw)) == 0 {
				continue
			}
			var frame map[string]interface{}
			if err := json.Unmarshal(raw, &frame); err != nil {
				continue
			}
			select {
			case c.messages <- frame:
			default:
			}
		}
	}
}
