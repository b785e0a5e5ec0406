// Package stream owns the lifecycle of one inbound server-push channel:
// handshake, reconnection with bounded backoff, and serialized delivery of
// frames to the caller.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Conn.
type State int32

const (
	Closed State = iota
	Opening
	Open
	Errored
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

var (
	// ErrConnectionFailed is surfaced when the channel gives up for good.
	ErrConnectionFailed = errors.New("stream connection failed")
	// ErrReconnectExhausted is wrapped into ErrConnectionFailed when the
	// retry budget ran out.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Handle identifies one logical channel opened by Open. It stays the same
// across reconnects and is invalidated by Close or a final failure.
type Handle struct {
	id       string
	endpoint string

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan item
	closed atomic.Bool

	releaseOnce sync.Once
	release     func()

	// touched only by the reader goroutine
	lastEventID string
}

// ID returns the handle's unique id.
func (h *Handle) ID() string { return h.id }

// Endpoint returns the URL the handle was opened against.
func (h *Handle) Endpoint() string { return h.endpoint }

func (h *Handle) releaseSlot() {
	h.releaseOnce.Do(h.release)
}

type itemKind int

const (
	itemFrame itemKind = iota
	itemState
	itemFailure
)

type item struct {
	kind  itemKind
	frame Frame
	state State
	err   error
}

// Options configures a Conn. Callbacks run one at a time on the connection's
// dispatch goroutine, in arrival order. They must not call Close
// synchronously; Close waits for the running callback to return.
type Options struct {
	Transport Transport
	Retry     *RetryPolicy
	Limiter   *Limiter
	Logger    *slog.Logger
	// Buffer is the number of frames queued between reader and dispatcher.
	Buffer int

	OnFrame   func(Frame)
	OnStop    func(Frame)
	OnState   func(State)
	OnFailure func(error)
}

// Conn manages at most one live channel. Open is idempotent while a channel
// is opening, open, or reconnecting.
type Conn struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	handle *Handle
	state  State
	err    error

	// held while a callback runs; Close takes it as a barrier
	deliverMu sync.Mutex
	wg        sync.WaitGroup
}

// NewConn creates a Conn. A nil Transport defaults to SSE, a nil Retry to
// DefaultRetryPolicy and a nil Limiter to a private DefaultMaxConnections cap.
func NewConn(opts Options) *Conn {
	if opts.Transport == nil {
		opts.Transport = NewSSETransport()
	}
	if opts.Retry == nil {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Limiter == nil {
		opts.Limiter = NewLimiter(DefaultMaxConnections)
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{opts: opts, logger: logger}
}

// Open starts the handshake against endpoint and returns immediately. If a
// channel is already opening, open, or reconnecting, its handle is returned
// and no second channel is created.
func (c *Conn) Open(ctx context.Context, endpoint string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		return c.handle, nil
	}
	if err := c.opts.Limiter.acquire(); err != nil {
		return nil, err
	}

	hctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:       uuid.New().String(),
		endpoint: endpoint,
		ctx:      hctx,
		cancel:   cancel,
		inbox:    make(chan item, c.opts.Buffer),
		release:  c.opts.Limiter.release,
	}
	c.handle = h
	c.err = nil
	c.state = Opening

	c.wg.Add(2)
	go c.run(h)
	go c.dispatch(h)

	c.logger.Debug("stream opening", "handle", h.id, "endpoint", endpoint)
	return h, nil
}

// Close tears down h. Once Close returns no further callbacks fire for h,
// even for frames that were already queued. Closing a stale handle only
// silences it.
func (c *Conn) Close(h *Handle) error {
	if h == nil {
		return nil
	}
	h.closed.Store(true)

	c.mu.Lock()
	if c.handle == h {
		c.handle = nil
		c.state = Closed
	}
	c.mu.Unlock()

	h.cancel()
	h.releaseSlot()

	// Wait out a callback that may have passed the closed check.
	c.deliverMu.Lock()
	c.deliverMu.Unlock()

	c.logger.Debug("stream closed", "handle", h.id)
	return nil
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle returns the live handle, or nil when closed.
func (c *Conn) Handle() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Err returns the persistent failure that closed the last channel, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until the goroutines of every closed or failed channel have exited.
func (c *Conn) Wait() {
	c.wg.Wait()
}

// run dials, pumps frames, and reconnects according to the retry policy.
// It is the only sender on h.inbox.
func (c *Conn) run(h *Handle) {
	defer c.wg.Done()
	defer close(h.inbox)

	attempt := 0
	for {
		c.transition(h, Opening)
		s, err := c.opts.Transport.Dial(h.ctx, h.endpoint, h.lastEventID)
		if err == nil {
			openedAt := time.Now()
			c.transition(h, Open)
			c.logger.Info("stream open", "handle", h.id, "endpoint", h.endpoint)
			err = c.pump(h, s)
			s.Close()
			// a server that accepts and drops at once must not reset the budget
			if c.opts.Retry.Stable(time.Since(openedAt)) {
				attempt = 0
			}
		}

		if h.ctx.Err() != nil {
			c.abandon(h)
			return
		}

		attempt++
		c.transition(h, Errored)
		c.logger.Warn("stream error", "handle", h.id, "attempt", attempt, "error", err)

		if !c.opts.Retry.ShouldRetry(err, attempt) {
			if attempt > c.opts.Retry.MaxAttempts {
				err = fmt.Errorf("%w: %w after %d attempts: %w", ErrConnectionFailed, ErrReconnectExhausted, attempt-1, err)
			} else {
				err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
			}
			c.fail(h, err)
			return
		}
		if err := c.opts.Retry.Wait(h.ctx, attempt); err != nil {
			c.abandon(h)
			return
		}
	}
}

func (c *Conn) pump(h *Handle, s Stream) error {
	for {
		f, err := s.Next()
		if err != nil {
			return err
		}
		if f.ID != "" {
			h.lastEventID = f.ID
		}
		if !c.emit(h, item{kind: itemFrame, frame: f}) {
			return h.ctx.Err()
		}
	}
}

// dispatch is the single delivery goroutine for h.
func (c *Conn) dispatch(h *Handle) {
	defer c.wg.Done()
	for it := range h.inbox {
		c.deliver(h, it)
	}
}

func (c *Conn) deliver(h *Handle, it item) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	if h.closed.Load() {
		return
	}
	switch it.kind {
	case itemFrame:
		if it.frame.IsStop() {
			if c.opts.OnStop != nil {
				c.opts.OnStop(it.frame)
			}
			return
		}
		if c.opts.OnFrame != nil {
			c.opts.OnFrame(it.frame)
		}
	case itemState:
		if c.opts.OnState != nil {
			c.opts.OnState(it.state)
		}
	case itemFailure:
		if c.opts.OnFailure != nil {
			c.opts.OnFailure(it.err)
		}
	}
}

// emit queues it for delivery. It reports false if h was cancelled first.
func (c *Conn) emit(h *Handle, it item) bool {
	select {
	case h.inbox <- it:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (c *Conn) transition(h *Handle, s State) {
	c.mu.Lock()
	if c.handle != h {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.emit(h, item{kind: itemState, state: s})
}

// fail moves h to Closed with a persistent failure and notifies the caller.
func (c *Conn) fail(h *Handle, err error) {
	c.mu.Lock()
	if c.handle == h {
		c.handle = nil
		c.state = Closed
		c.err = err
	}
	c.mu.Unlock()
	h.releaseSlot()

	c.logger.Error("stream gave up", "handle", h.id, "endpoint", h.endpoint, "error", err)
	c.emit(h, item{kind: itemState, state: Closed})
	c.emit(h, item{kind: itemFailure, err: err})
	h.cancel()
}

// abandon cleans up after h's context ended without an explicit Close, for
// example when the parent context was cancelled.
func (c *Conn) abandon(h *Handle) {
	h.closed.Store(true)
	c.mu.Lock()
	if c.handle == h {
		c.handle = nil
		c.state = Closed
	}
	c.mu.Unlock()
	h.releaseSlot()
}
