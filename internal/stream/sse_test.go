package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func parseAll(t *testing.T, input string) []Frame {
	t.Helper()
	s := newSSEStream(io.NopCloser(strings.NewReader(input)))
	var frames []Frame
	for {
		f, err := s.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		frames = append(frames, f)
	}
}

func TestSSEParser(t *testing.T) {
	input := ": comment\n" +
		"id: 1\n" +
		"data: {\"a\":1}\n\n" +
		"event: stop\n" +
		"data: done\n\n" +
		"data: line1\r\n" +
		"data: line2\r\n\r\n" +
		"retry: 100\n\n" +
		"event: stop\n\n" +
		"data: cut off"

	frames := parseAll(t, input)
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d: %+v", len(frames), frames)
	}

	if frames[0].Event != EventMessage || string(frames[0].Data) != `{"a":1}` || frames[0].ID != "1" {
		t.Errorf("unexpected first frame: %+v", frames[0])
	}
	if !frames[1].IsStop() || string(frames[1].Data) != "done" {
		t.Errorf("unexpected stop frame: %+v", frames[1])
	}
	if string(frames[2].Data) != "line1\nline2" {
		t.Errorf("expected multi-line data joined with newline, got %q", frames[2].Data)
	}
	if frames[2].ID != "1" {
		t.Errorf("expected last event id to persist, got %q", frames[2].ID)
	}
	if !frames[3].IsStop() || len(frames[3].Data) != 0 {
		t.Errorf("expected data-less stop frame, got %+v", frames[3])
	}
}

func TestSSEParserNoSpaceAfterColon(t *testing.T) {
	frames := parseAll(t, "data:x\nevent:stop\n\n")
	if len(frames) != 1 || string(frames[0].Data) != "x" || !frames[0].IsStop() {
		t.Errorf("unexpected frames: %+v", frames)
	}
}

func TestSSEParserFrameTooLarge(t *testing.T) {
	big := strings.Repeat("x", maxFrameSize+1)
	s := newSSEStream(io.NopCloser(strings.NewReader("data: " + big + "\n\n")))
	if _, err := s.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestSSETransportDial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected Accept text/event-stream, got %q", r.Header.Get("Accept"))
		}
		if r.Header.Get("Last-Event-ID") != "41" {
			t.Errorf("expected Last-Event-ID 41, got %q", r.Header.Get("Last-Event-ID"))
		}
		if r.URL.Query().Get("sessionId") != "s1" {
			t.Errorf("expected sessionId query param, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		fmt.Fprint(w, "id: 42\ndata: hello\n\n")
	}))
	defer server.Close()

	s, err := NewSSETransport().Dial(context.Background(), server.URL+"?sessionId=s1", "41")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	f, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if string(f.Data) != "hello" || f.ID != "42" {
		t.Errorf("unexpected frame %+v", f)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after server finished, got %v", err)
	}
}

func TestSSETransportRejectsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewSSETransport().Dial(context.Background(), server.URL, "")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Errorf("expected StatusError 404, got %v", err)
	}
}

func TestSSETransportRejectsContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := NewSSETransport().Dial(context.Background(), server.URL, "")
	if !errors.Is(err, ErrBadContentType) {
		t.Errorf("expected ErrBadContentType, got %v", err)
	}
}

// endlessReader never produces a newline.
type endlessReader struct{ n int }

func (r *endlessReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	r.n += len(p)
	return len(p), nil
}

func TestSSEParserUnterminatedLineIsBounded(t *testing.T) {
	r := &endlessReader{}
	s := newSSEStream(io.NopCloser(r))
	if _, err := s.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if r.n > 2*maxLineSize {
		t.Errorf("expected reading to stop near %d bytes, read %d", maxLineSize, r.n)
	}
}
