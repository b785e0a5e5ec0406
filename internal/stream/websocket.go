package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport opens channels over WebSocket. Each text message is a
// JSON object {"event": ..., "id": ..., "data": ...} carrying the same fields
// as an SSE event; data may be a JSON string or an inline envelope.
type WebSocketTransport struct {
	Dialer *websocket.Dialer
}

// NewWebSocketTransport returns a transport using the gorilla default dialer.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{Dialer: websocket.DefaultDialer}
}

func (t *WebSocketTransport) Dial(ctx context.Context, endpoint, lastEventID string) (Stream, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	header := http.Header{}
	if lastEventID != "" {
		header.Set("Last-Event-ID", lastEventID)
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &StatusError{Code: resp.StatusCode}
		}
		return nil, fmt.Errorf("open websocket: %w", err)
	}

	s := &wsStream{conn: conn, done: make(chan struct{})}
	// ReadMessage does not observe ctx, so closing the socket unblocks it.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type wireFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

type wsStream struct {
	conn   *websocket.Conn
	done   chan struct{}
	once   sync.Once
	lastID string
}

func (s *wsStream) Next() (Frame, error) {
	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var wf wireFrame
		if err := json.Unmarshal(msg, &wf); err != nil {
			// Hand unframed text to the validator so it is dropped per event.
			return Frame{Event: EventMessage, ID: s.lastID, Data: msg}, nil
		}
		if wf.ID != "" {
			s.lastID = wf.ID
		}
		if wf.Event == "" {
			wf.Event = EventMessage
		}

		data := []byte(wf.Data)
		var text string
		if err := json.Unmarshal(wf.Data, &text); err == nil {
			data = []byte(text)
		}
		return Frame{Event: wf.Event, ID: s.lastID, Data: data}, nil
	}
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
