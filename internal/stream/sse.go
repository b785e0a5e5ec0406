package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// maxFrameSize bounds the data accumulated for a single SSE event.
const maxFrameSize = 1 << 20

// maxLineSize bounds a single line, field name included.
const maxLineSize = maxFrameSize + 64

// ErrFrameTooLarge is returned when an SSE event or line exceeds its bound.
var ErrFrameTooLarge = errors.New("event exceeds maximum frame size")

// SSETransport opens text/event-stream channels over HTTP.
type SSETransport struct {
	Client *http.Client
}

// NewSSETransport returns a transport using a client with no overall timeout,
// since event streams are long-lived.
func NewSSETransport() *SSETransport {
	return &SSETransport{Client: &http.Client{}}
}

func (t *SSETransport) Dial(ctx context.Context, endpoint, lastEventID string) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/event-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %q", ErrBadContentType, resp.Header.Get("Content-Type"))
	}

	return newSSEStream(resp.Body), nil
}

type sseStream struct {
	body   io.ReadCloser
	r      *bufio.Reader
	lastID string
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{body: body, r: bufio.NewReader(body)}
}

// Next parses lines until a blank line completes an event. Events with
// neither data nor an explicit event name are skipped. An event cut off by
// the end of the stream is discarded.
func (s *sseStream) Next() (Frame, error) {
	var (
		name    string
		data    []byte
		hasData bool
	)
	for {
		line, err := s.readLine()
		if err != nil {
			return Frame{}, err
		}

		if line == "" {
			if !hasData && name == "" {
				continue
			}
			if name == "" {
				name = EventMessage
			}
			return Frame{Event: name, ID: s.lastID, Data: data}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if i := strings.IndexByte(line, ':'); i >= 0 {
			field = line[:i]
			value = strings.TrimPrefix(line[i+1:], " ")
		}

		switch field {
		case "event":
			name = value
		case "data":
			if hasData {
				data = append(data, '\n')
			}
			data = append(data, value...)
			hasData = true
			if len(data) > maxFrameSize {
				return Frame{}, ErrFrameTooLarge
			}
		case "id":
			if !strings.ContainsRune(value, 0) {
				s.lastID = value
			}
		case "retry":
			// Reconnect timing is decided by RetryPolicy, not the server.
		}
	}
}

// readLine returns the next line without its terminator. It fails with
// ErrFrameTooLarge as soon as the line passes maxLineSize, so a server that
// never sends a newline cannot grow the buffer without limit.
func (s *sseStream) readLine() (string, error) {
	var line []byte
	for {
		chunk, err := s.r.ReadSlice('\n')
		if len(line)+len(chunk) > maxLineSize {
			return "", ErrFrameTooLarge
		}
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return "", err
		}
		break
	}
	out := strings.TrimSuffix(string(line), "\n")
	return strings.TrimSuffix(out, "\r"), nil
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
