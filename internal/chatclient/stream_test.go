package chatclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ola-suite/internal/chatclient/chattest"
	"github.com/suPer8Hu/ola-suite/internal/logging"
	"github.com/suPer8Hu/ola-suite/internal/store/memstore"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func waitDone(t *testing.T, s *Stream) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("stream %s did not finish", s.ID())
	}
}

// gate holds chunk i>0 until release is closed or the request is gone.
func gate(release <-chan struct{}) func(ctx context.Context, i int) bool {
	return func(ctx context.Context, i int) bool {
		if i == 0 {
			return true
		}
		select {
		case <-release:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

func TestStream_TwoChunkScenario(t *testing.T) {
	srv := chattest.New(t, chattest.Options{
		StreamChunks: []string{`data: {"step":"a"}{"st`, `ep":"b"}`},
	})
	c := newTestClient(t, srv, nil)

	var got collector
	s, err := c.SendMessageStream(context.Background(), "q", got.add)
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	events := got.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Step)
	assert.Equal(t, "b", events[1].Step)
	assert.Equal(t, int64(2), s.Delivered())
	assert.Len(t, s.ID(), 26)
}

func TestStream_DefaultSSEReply(t *testing.T) {
	srv := chattest.New(t, chattest.Options{
		Reply: func(string) string { return "revenue grew 12 percent" },
	})
	c := newTestClient(t, srv, nil)

	var got collector
	s, err := c.SendMessageStream(context.Background(), "how did revenue do?", got.add)
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	var text strings.Builder
	var final string
	kinds := map[Kind]int{}
	for _, ev := range got.snapshot() {
		kinds[ev.Kind]++
		switch ev.Kind {
		case KindContent:
			text.WriteString(ev.Content)
		case KindFinalAnswer:
			final = ev.FinalAnswer
		}
	}
	assert.Equal(t, "revenue grew 12 percent", text.String())
	assert.Equal(t, "revenue grew 12 percent", final)
	assert.Equal(t, 1, kinds[KindStep])
	assert.Equal(t, 1, kinds[KindUnknown], "done frame")
	assert.Zero(t, kinds[KindParseError])
}

func TestStream_NewStreamAbortsPrevious(t *testing.T) {
	release := make(chan struct{})
	srv := chattest.New(t, chattest.Options{
		StreamChunks: []string{`{"step":"a"}`, `{"step":"b"}`},
		BeforeChunk:  gate(release),
	})
	c := newTestClient(t, srv, nil)

	var n1 atomic.Int32
	first := make(chan struct{}, 1)
	s1, err := c.SendMessageStream(context.Background(), "q1", func(Event) {
		n1.Add(1)
		select {
		case first <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("first event not delivered")
	}

	var got2 collector
	s2, err := c.SendMessageStream(context.Background(), "q2", got2.add)
	require.NoError(t, err)
	assert.True(t, s1.Aborted())

	waitDone(t, s1)
	assert.NoError(t, s1.Err())

	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	assert.Same(t, s2, current, "finished stream must not clear its successor")

	close(release)
	require.NoError(t, s2.Wait())

	assert.Equal(t, int32(1), n1.Load())
	assert.Len(t, got2.snapshot(), 2)

	c.mu.Lock()
	assert.Nil(t, c.current)
	c.mu.Unlock()
}

func TestStream_AbortIsSilent(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := chattest.New(t, chattest.Options{
		StreamChunks: []string{`{"step":"a"}`, `{"step":"b"}`},
		BeforeChunk:  gate(release),
	})
	c := newTestClient(t, srv, nil)

	var got collector
	first := make(chan struct{}, 1)
	s, err := c.SendMessageStream(context.Background(), "q", func(ev Event) {
		got.add(ev)
		select {
		case first <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	<-first

	c.Abort()
	s.Abort()
	require.NoError(t, s.Wait())
	assert.True(t, s.Aborted())

	events := got.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, KindStep, events[0].Kind)
}

func TestStream_ContextCancelIsSilent(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := chattest.New(t, chattest.Options{
		StreamChunks: []string{`{"step":"a"}`, `{"step":"b"}`},
		BeforeChunk:  gate(release),
	})
	c := newTestClient(t, srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var got collector
	s, err := c.SendMessageStream(ctx, "q", got.add)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, s.Wait())
	for _, ev := range got.snapshot() {
		assert.NotEqual(t, KindError, ev.Kind)
	}
}

func TestStream_HTTPErrorBecomesEvent(t *testing.T) {
	srv := chattest.New(t, chattest.Options{StreamStatus: http.StatusBadGateway})
	c := newTestClient(t, srv, nil)

	var got collector
	s, err := c.SendMessageStream(context.Background(), "q", got.add)
	require.NoError(t, err)

	err = s.Wait()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "stream rejected", apiErr.Message)

	events := got.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, KindError, events[0].Kind)
	assert.Equal(t, "stream rejected", events[0].Message)
}

func TestStream_TransportErrorBecomesEvent(t *testing.T) {
	st := memstore.New()
	require.NoError(t, st.Set(context.Background(), DefaultSessionKey, "sess-1"))
	c, err := New(context.Background(), Options{
		BaseURL: "http://127.0.0.1:1",
		Store:   st,
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)

	var got collector
	s, err := c.SendMessageStream(context.Background(), "q", got.add)
	require.NoError(t, err)
	assert.Error(t, s.Wait())

	events := got.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, defaultStreamMsg, events[0].Message)
}

func TestStream_SessionErrorIsSynchronous(t *testing.T) {
	srv := chattest.New(t, chattest.Options{FailCreate: true})
	c := newTestClient(t, srv, nil)

	s, err := c.SendMessageStream(context.Background(), "q", func(Event) {
		t.Error("callback must not run")
	})
	assert.Nil(t, s)
	var sce *SessionCreationError
	assert.ErrorAs(t, err, &sce)
	assert.Equal(t, 0, srv.StreamCalls())
}

func TestStream_CallbackPanicIsContained(t *testing.T) {
	srv := chattest.New(t, chattest.Options{
		StreamChunks: []string{`{"step":"a"}{"step":"b"}`},
	})
	c := newTestClient(t, srv, nil)

	var got collector
	s, err := c.SendMessageStream(context.Background(), "q", func(ev Event) {
		got.add(ev)
		if ev.Step == "a" {
			panic("boom")
		}
	})
	require.NoError(t, err)
	require.NoError(t, s.Wait())
	assert.Len(t, got.snapshot(), 2)
}

func TestStream_ParseErrorsAreDelivered(t *testing.T) {
	srv := chattest.New(t, chattest.Options{
		StreamChunks: []string{`{"step":"a"}{"step":}`, `{"step":"c"}`},
	})
	c := newTestClient(t, srv, nil)

	var got collector
	s, err := c.SendMessageStream(context.Background(), "q", got.add)
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	events := got.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, KindParseError, events[1].Kind)
	assert.Equal(t, "c", events[2].Step)
}

func TestStreamEvents_Channel(t *testing.T) {
	srv := chattest.New(t, chattest.Options{
		StreamChunks: []string{"data: {\"delta\":\"a\"}\n\n", "data: {\"delta\":\"b\"}\n\n"},
	})
	c := newTestClient(t, srv, nil)

	ch, s, err := c.StreamEvents(context.Background(), "q")
	require.NoError(t, err)

	var text string
	for ev := range ch {
		text += ev.Content
	}
	assert.Equal(t, "ab", text)
	require.NoError(t, s.Wait())
}

func TestStream_EmptyMessage(t *testing.T) {
	srv := chattest.New(t, chattest.Options{})
	c := newTestClient(t, srv, nil)

	_, err := c.SendMessageStream(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestCallbackDelivery_SkipsStoppedStream(t *testing.T) {
	c := newTestClient(t, chattest.New(t, chattest.Options{}), nil)

	calls := 0
	deliver := c.callbackDelivery(func(ev Event) {
		calls++
		if ev.Step == "boom" {
			panic("boom")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{ctx: ctx, cancel: cancel, done: make(chan struct{})}

	assert.True(t, deliver(s, Event{Kind: KindStep, Step: "a"}))
	assert.True(t, deliver(s, Event{Kind: KindStep, Step: "boom"}), "a panicking callback still counts as delivered")

	s.Abort()
	assert.False(t, deliver(s, Event{Kind: KindStep, Step: "late"}))
	assert.Equal(t, 2, calls)
}

func TestStream_AbortBeforeStatusCheckIsSilent(t *testing.T) {
	st := memstore.New()
	require.NoError(t, st.Set(context.Background(), DefaultSessionKey, "sess-1"))

	var c *Client
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		// headers are in, then the caller gives up
		c.Abort()
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"success":false,"error":"boom"}`)),
			Request:    r,
		}, nil
	})
	var err error
	c, err = New(context.Background(), Options{
		BaseURL:      "http://ola.invalid",
		Store:        st,
		StreamClient: &http.Client{Transport: transport},
		Logger:       logging.Discard(),
	})
	require.NoError(t, err)

	var got collector
	s, err := c.SendMessageStream(context.Background(), "q", got.add)
	require.NoError(t, err)
	require.NoError(t, s.Wait())
	assert.NoError(t, s.Err())
	assert.Empty(t, got.snapshot())
}

func TestStreamEvents_DroppedEventsAreNotCounted(t *testing.T) {
	srv := chattest.New(t, chattest.Options{
		StreamChunks: []string{strings.Repeat(`{"step":"s"}`, 40)},
	})
	c := newTestClient(t, srv, nil)

	ch, s, err := c.StreamEvents(context.Background(), "q")
	require.NoError(t, err)

	// nobody reads: the channel buffer fills and the next send blocks
	require.Eventually(t, func() bool { return s.Delivered() == int64(cap(ch)) }, 5*time.Second, 10*time.Millisecond)
	s.Abort()
	require.NoError(t, s.Wait())

	received := 0
	for range ch {
		received++
	}
	assert.Equal(t, cap(ch), received)
	assert.Equal(t, int64(received), s.Delivered())
}
