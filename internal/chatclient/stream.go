package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/suPer8Hu/ola-suite/internal/common"
)

const readChunkSize = 32 * 1024

// Stream is the handle of one in-flight streaming answer.
type Stream struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	aborted   atomic.Bool
	delivered atomic.Int64

	errMu sync.Mutex
	err   error
}

func (s *Stream) ID() string { return s.id }

// Abort stops the stream. No new event is dispatched once it returns; a
// callback already running, or one racing the abort, may still finish.
// Safe to call repeatedly.
func (s *Stream) Abort() {
	s.aborted.Store(true)
	s.cancel()
}

func (s *Stream) Aborted() bool { return s.aborted.Load() }

// Done is closed once the body is closed and no more events will be delivered.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Wait blocks until the stream ends. Cancellation yields nil.
func (s *Stream) Wait() error {
	<-s.done
	return s.Err()
}

func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Delivered counts events the consumer actually received.
func (s *Stream) Delivered() int64 { return s.delivered.Load() }

func (s *Stream) live() bool {
	return !s.aborted.Load() && s.ctx.Err() == nil
}

func (s *Stream) fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// SendMessageStream posts message and delivers the answer as events to onData,
// on a goroutine owned by the stream, in arrival order. Any stream this client
// already has in flight is aborted first. Session errors are returned
// synchronously; transport errors arrive as one KindError event and from Wait.
func (c *Client) SendMessageStream(ctx context.Context, message string, onData func(Event), opts ...SendOption) (*Stream, error) {
	if onData == nil {
		onData = func(Event) {}
	}
	return c.startStream(ctx, message, opts, c.callbackDelivery(onData), nil)
}

// callbackDelivery re-checks the stream right before onData runs and keeps a
// panicking callback from taking the stream goroutine down.
func (c *Client) callbackDelivery(onData func(Event)) func(*Stream, Event) bool {
	return func(s *Stream, ev Event) bool {
		if !s.live() {
			return false
		}
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("stream callback panicked", "kind", ev.Kind, "panic", r)
			}
		}()
		onData(ev)
		return true
	}
}

// StreamEvents is SendMessageStream with channel delivery. The channel is
// closed when the stream ends; events not yet received when the stream is
// aborted are dropped.
func (c *Client) StreamEvents(ctx context.Context, message string, opts ...SendOption) (<-chan Event, *Stream, error) {
	out := make(chan Event, 16)
	deliver := func(s *Stream, ev Event) bool {
		if !s.live() {
			return false
		}
		select {
		case out <- ev:
			return true
		case <-s.ctx.Done():
			return false
		}
	}
	s, err := c.startStream(ctx, message, opts, deliver, func() { close(out) })
	if err != nil {
		return nil, nil, err
	}
	return out, s, nil
}

// Abort stops the client's in-flight stream, if any.
func (c *Client) Abort() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil {
		s.Abort()
	}
}

func (c *Client) startStream(ctx context.Context, message string, opts []SendOption, deliver func(*Stream, Event) bool, finish func()) (*Stream, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	o := c.sendOpts(opts)

	sid, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(sctx, http.MethodPost, c.paths.StreamMessage, nil,
		sendReq{SessionID: sid, Message: message, Model: o.model})
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	s := &Stream{
		id:     common.MustULID(),
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	prev := c.current
	c.current = s
	c.mu.Unlock()
	if prev != nil {
		prev.Abort()
		c.log.Debug("aborted previous stream", "stream_id", prev.id)
	}

	c.log.Debug("stream started", "stream_id", s.id, "session_id", sid)
	go c.runStream(s, req, deliver, finish)
	return s, nil
}

func (c *Client) runStream(s *Stream, req *http.Request, deliver func(*Stream, Event) bool, finish func()) {
	defer close(s.done)
	if finish != nil {
		defer finish()
	}
	defer c.release(s)
	defer s.cancel()

	dispatch := func(ev Event) {
		if !s.live() {
			return
		}
		if deliver(s, ev) {
			s.delivered.Add(1)
		}
	}
	failed := func(err error, msg string) {
		s.fail(err)
		c.log.Warn("stream failed", "stream_id", s.id, "err", err)
		dispatch(Event{Kind: KindError, Message: msg})
	}

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		if !s.live() {
			return
		}
		failed(&APIError{Op: "stream message", Message: defaultStreamMsg, Err: err}, defaultStreamMsg)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if !s.live() {
			return
		}
		apiErr := streamStatusError(resp)
		failed(apiErr, apiErr.Message)
		return
	}

	p := NewParser()
	buf := make([]byte, readChunkSize)
	for {
		if !s.live() {
			return
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range p.Feed(buf[:n]) {
				if !s.live() {
					return
				}
				if ev.Kind == KindParseError {
					c.log.Debug("unparseable stream object", "stream_id", s.id, "err", ev.Message)
				}
				dispatch(ev)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if !s.live() {
				return
			}
			failed(fmt.Errorf("read stream: %w", rerr), defaultStreamMsg)
			return
		}
	}

	for _, ev := range p.Flush() {
		dispatch(ev)
	}
	c.log.Debug("stream finished", "stream_id", s.id, "events", s.delivered.Load())
}

// release clears the current-stream slot if it still holds s.
func (c *Client) release(s *Stream) {
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
}

func streamStatusError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	var env envelope
	msg := ""
	if err := json.Unmarshal(body, &env); err == nil {
		msg = firstNonEmpty(env.Error, env.Message)
	}
	if msg == "" {
		msg = fmt.Sprintf("%s (status %d)", defaultStreamMsg, resp.StatusCode)
	}
	apiErr := &APIError{Op: "stream message", Status: resp.StatusCode, Message: msg}
	if isSessionNotFound(msg) {
		apiErr.Err = ErrSessionNotFound
	}
	return apiErr
}
