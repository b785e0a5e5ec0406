// Package engine wires the session, the inbound stream, validation, routing,
// the transcript store and the intent classifier into one client.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/user/botstream/internal/event"
	"github.com/user/botstream/internal/intent"
	"github.com/user/botstream/internal/outbound"
	"github.com/user/botstream/internal/router"
	"github.com/user/botstream/internal/session"
	"github.com/user/botstream/internal/stream"
	"github.com/user/botstream/internal/transcript"
	"github.com/user/botstream/internal/types"
)

// DefaultSessionParam is the query parameter carrying the session id.
const DefaultSessionParam = "sessionId"

// ErrNoOutbound is returned by Send when no dispatcher is configured.
var ErrNoOutbound = errors.New("outbound dispatcher not configured")

// UpdateKind says what changed.
type UpdateKind int

const (
	UpdateTranscript UpdateKind = iota
	UpdateStop
	UpdateMode
	UpdateState
	UpdateFailure
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateTranscript:
		return "transcript"
	case UpdateStop:
		return "stop"
	case UpdateMode:
		return "mode"
	case UpdateState:
		return "state"
	case UpdateFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Update notifies the shell of a change. Only the fields relevant to Kind are set.
type Update struct {
	Kind      UpdateKind
	MessageID types.MessageID
	Mode      intent.Mode
	State     stream.State
	Err       error
}

// Config configures an Engine.
type Config struct {
	StreamURL    string
	SessionParam string

	Transport stream.Transport
	Retry     *stream.RetryPolicy
	Limiter   *stream.Limiter

	Ordering transcript.Ordering
	Outbound *outbound.Dispatcher
	Journal  types.Journal
	Logger   *slog.Logger

	// DedupeWindow is how many recent event ids are remembered.
	DedupeWindow int

	// OnUpdate runs on the stream's dispatch goroutine and must not block
	// for long or call Close.
	OnUpdate func(Update)
}

// Engine is a single-session bot stream client.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	endpoint string

	session     *session.Session
	conn        *stream.Conn
	router      *router.Router
	transcripts *transcript.Store
	intents     *intent.Classifier

	mu      sync.Mutex
	ctx     context.Context
	seen    *seenSet
	lastMsg types.MessageID
	// stopped is set once lastMsg has been stopped and cleared by the next chunk
	stopped bool
}

// New creates an Engine for sess. It does not connect.
func New(sess *session.Session, cfg Config) (*Engine, error) {
	if sess == nil {
		return nil, fmt.Errorf("engine: nil session")
	}
	if cfg.SessionParam == "" {
		cfg.SessionParam = DefaultSessionParam
	}
	endpoint, err := buildEndpoint(cfg.StreamURL, cfg.SessionParam, sess.ID())
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		endpoint:    endpoint,
		session:     sess,
		transcripts: transcript.New(transcript.WithOrdering(cfg.Ordering)),
		intents:     intent.NewClassifier(),
		ctx:         context.Background(),
		seen:        newSeenSet(cfg.DedupeWindow),
	}
	e.router = router.New(e.handleUnknown,
		router.Route{Kind: event.KindChunk, Handler: e.handleChunk},
		router.Route{Kind: event.KindStop, Handler: e.handleStop},
		router.Route{Kind: event.KindIntent, Handler: e.handleIntent},
	)
	e.conn = stream.NewConn(stream.Options{
		Transport: cfg.Transport,
		Retry:     cfg.Retry,
		Limiter:   cfg.Limiter,
		Logger:    logger,
		OnFrame:   e.onFrame,
		OnStop:    e.onStop,
		OnState:   e.onState,
		OnFailure: e.onFailure,
	})
	return e, nil
}

func buildEndpoint(raw, param string, id types.SessionID) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("engine: stream url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("stream url %q must be absolute", raw)
	}
	q := u.Query()
	q.Set(param, string(id))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Endpoint returns the stream URL including the session parameter.
func (e *Engine) Endpoint() string { return e.endpoint }

// Session returns the engine's session.
func (e *Engine) Session() *session.Session { return e.session }

// Transcripts returns the transcript store.
func (e *Engine) Transcripts() *transcript.Store { return e.transcripts }

// Transcript returns a snapshot of one message.
func (e *Engine) Transcript(id types.MessageID) transcript.Entry {
	return e.transcripts.Get(id)
}

// Mode returns the current UI mode.
func (e *Engine) Mode() intent.Mode { return e.intents.Mode() }

// State returns the stream state.
func (e *Engine) State() stream.State { return e.conn.State() }

// Err returns the persistent stream failure, if any.
func (e *Engine) Err() error { return e.conn.Err() }

// Connect opens the stream for the session. Calling it while a connection is
// live returns the existing handle.
func (e *Engine) Connect(ctx context.Context) (*stream.Handle, error) {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	h, err := e.conn.Open(ctx, e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	e.session.Attach(h)
	return h, nil
}

// Close tears down the current connection. After Close returns no queued
// event mutates the transcript store or the mode.
func (e *Engine) Close() error {
	h := e.session.Handle()
	if h == nil {
		return nil
	}
	e.session.Detach(h)
	return e.conn.Close(h)
}

// Wait blocks until every closed connection's goroutines have exited.
func (e *Engine) Wait() { e.conn.Wait() }

// Send posts one user message for the session.
func (e *Engine) Send(ctx context.Context, text string) (*outbound.Result, error) {
	if e.cfg.Outbound == nil {
		return nil, ErrNoOutbound
	}
	return e.cfg.Outbound.Send(ctx, e.session.ID(), text)
}

// HandlePayload validates and routes one raw envelope. Invalid payloads are
// logged once and dropped; the error is returned for callers that care.
func (e *Engine) HandlePayload(ctx context.Context, raw []byte) error {
	ev, err := event.Validate(raw)
	if err != nil {
		e.logger.Warn("dropping invalid event", "error", err)
		e.record(ctx, &types.Record{Outcome: types.OutcomeDropped, Error: err.Error()})
		return err
	}

	meta := ev.Metadata()
	e.mu.Lock()
	fresh := e.seen.add(meta.ID)
	e.mu.Unlock()
	if !fresh {
		e.logger.Debug("duplicate event", "id", meta.ID, "kind", ev.Kind())
		e.record(ctx, &types.Record{EventID: meta.ID, Kind: string(ev.Kind()), Outcome: types.OutcomeDuplicate})
		return nil
	}

	if err := e.router.Dispatch(ctx, ev); err != nil {
		e.logger.Error("event handler failed", "id", meta.ID, "kind", ev.Kind(), "error", err)
		e.record(ctx, &types.Record{EventID: meta.ID, Kind: string(ev.Kind()), Outcome: types.OutcomeDropped, Error: err.Error()})
		return err
	}
	return nil
}

func (e *Engine) handleChunk(ctx context.Context, ev event.Event) error {
	c := ev.(*event.Chunk)
	outcome := types.OutcomeApplied
	if c.Text == "" {
		// the message is known but has no text yet
		e.transcripts.Create(c.MessageID)
	} else if !e.transcripts.AppendChunk(c.MessageID, c.Seq, c.Text) {
		outcome = types.OutcomeDuplicate
	}

	e.mu.Lock()
	e.lastMsg = c.MessageID
	e.stopped = false
	e.mu.Unlock()

	e.record(ctx, &types.Record{EventID: c.ID, Kind: string(c.Kind()), MessageID: c.MessageID, Outcome: outcome})
	if outcome == types.OutcomeApplied {
		e.notify(Update{Kind: UpdateTranscript, MessageID: c.MessageID})
	}
	return nil
}

func (e *Engine) handleStop(ctx context.Context, ev event.Event) error {
	id, first := e.takeStop()
	outcome := types.OutcomeStop
	if !first {
		outcome = types.OutcomeDuplicate
	}
	e.record(ctx, &types.Record{EventID: ev.Metadata().ID, Kind: string(ev.Kind()), MessageID: id, Outcome: outcome})
	if first {
		e.notify(Update{Kind: UpdateStop, MessageID: id})
	}
	return nil
}

func (e *Engine) handleIntent(ctx context.Context, ev event.Event) error {
	in := ev.(*event.Intent)
	if !intent.Known(in.Label) {
		e.logger.Debug("ignoring unknown intent", "intent", in.Label)
		e.record(ctx, &types.Record{EventID: in.ID, Kind: string(in.Kind()), Outcome: types.OutcomeUnknown})
		return nil
	}

	before := e.intents.Mode()
	after := e.intents.Classify(in.Label)
	e.record(ctx, &types.Record{EventID: in.ID, Kind: string(in.Kind()), Outcome: types.OutcomeApplied})
	if after != before {
		e.logger.Info("mode changed", "from", before, "to", after)
		e.notify(Update{Kind: UpdateMode, Mode: after})
	}
	return nil
}

func (e *Engine) handleUnknown(ctx context.Context, ev event.Event) error {
	e.logger.Debug("unhandled event", "kind", ev.Kind(), "id", ev.Metadata().ID)
	e.record(ctx, &types.Record{EventID: ev.Metadata().ID, Kind: string(ev.Kind()), Outcome: types.OutcomeUnknown})
	return nil
}

func (e *Engine) onFrame(f stream.Frame) {
	_ = e.HandlePayload(e.context(), f.Data)
}

// onStop handles the transport-level stop signal, which ends the current bot
// message without going through validation. A server may send both this and
// a bot-message-stop envelope; only the first raises UpdateStop.
func (e *Engine) onStop(stream.Frame) {
	id, first := e.takeStop()
	e.logger.Debug("stop signal", "message", id, "first", first)
	outcome := types.OutcomeStop
	if !first {
		outcome = types.OutcomeDuplicate
	}
	e.record(e.context(), &types.Record{Kind: stream.EventStop, MessageID: id, Outcome: outcome})
	if first {
		e.notify(Update{Kind: UpdateStop, MessageID: id})
	}
}

func (e *Engine) onState(s stream.State) {
	e.notify(Update{Kind: UpdateState, State: s})
}

func (e *Engine) onFailure(err error) {
	if h := e.session.Handle(); h != nil && e.conn.Handle() != h {
		e.session.Detach(h)
	}
	e.notify(Update{Kind: UpdateFailure, Err: err})
}

func (e *Engine) notify(u Update) {
	if e.cfg.OnUpdate != nil {
		e.cfg.OnUpdate(u)
	}
}

func (e *Engine) record(ctx context.Context, rec *types.Record) {
	if e.cfg.Journal == nil {
		return
	}
	rec.SessionID = e.session.ID()
	rec.At = time.Now()
	if err := e.cfg.Journal.Append(ctx, rec); err != nil {
		e.logger.Warn("journal append failed", "error", err)
	}
}

func (e *Engine) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}

// takeStop returns the message a stop applies to and reports whether it is
// the first stop since that message's last chunk.
func (e *Engine) takeStop() (types.MessageID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	first := !e.stopped
	e.stopped = true
	return e.lastMsg, first
}
