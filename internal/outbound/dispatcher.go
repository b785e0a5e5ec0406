// internal/outbound/dispatcher.go
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/botstream/internal/event"
	"github.com/user/botstream/internal/types"
)

// ErrEmptyMessage is returned when Send is called with no text.
var ErrEmptyMessage = errors.New("empty message")

// NetworkError reports a failed outbound request. StatusCode is zero when the
// request never got a response.
type NetworkError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("send to %s: status %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("send to %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Result describes an accepted outbound message.
type Result struct {
	ID         types.EventID
	StatusCode int
	SentAt     time.Time
}

// Dispatcher posts user messages to the bot server. It never retries.
type Dispatcher struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

// New creates a Dispatcher posting to url with the given request timeout.
func New(url string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Send transmits one user-message envelope correlated to sessionID.
func (d *Dispatcher) Send(ctx context.Context, sessionID types.SessionID, text string) (*Result, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}

	sentAt := d.now()
	msg := event.NewUserMessage(sessionID, text, sentAt)
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: d.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &NetworkError{
			URL:        d.url,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	io.Copy(io.Discard, resp.Body)

	return &Result{ID: msg.ID, StatusCode: resp.StatusCode, SentAt: sentAt}, nil
}
