package chatclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ola-suite/internal/auth"
	"github.com/suPer8Hu/ola-suite/internal/chatclient/chattest"
	"github.com/suPer8Hu/ola-suite/internal/logging"
	"github.com/suPer8Hu/ola-suite/internal/store"
	"github.com/suPer8Hu/ola-suite/internal/store/memstore"
)

func newTestClient(t *testing.T, srv *chattest.Server, st store.SessionStore) *Client {
	t.Helper()
	if st == nil {
		st = memstore.New()
	}
	c, err := New(context.Background(), Options{
		BaseURL: srv.URL,
		Store:   st,
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)

	_, err = New(context.Background(), Options{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestNew_LoadsPersistedSession(t *testing.T) {
	srv := chattest.New(t, chattest.Options{})
	st := memstore.New()
	require.NoError(t, st.Set(context.Background(), DefaultSessionKey, "sess-persisted"))

	c := newTestClient(t, srv, st)
	assert.Equal(t, "sess-persisted", c.SessionID())
	assert.Equal(t, 0, srv.CreateCalls())
}

func TestCreateSession_PersistsID(t *testing.T) {
	srv := chattest.New(t, chattest.Options{})
	st := memstore.New()
	c := newTestClient(t, srv, st)

	id, err := c.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, c.SessionID())

	stored, err := st.Get(context.Background(), DefaultSessionKey)
	require.NoError(t, err)
	assert.Equal(t, id, stored)
}

func TestCreateSession_Failure(t *testing.T) {
	srv := chattest.New(t, chattest.Options{FailCreate: true})
	c := newTestClient(t, srv, nil)

	_, err := c.CreateSession(context.Background())
	var sce *SessionCreationError
	require.ErrorAs(t, err, &sce)
	assert.Equal(t, "session service unavailable", sce.Message)
	assert.Equal(t, http.StatusServiceUnavailable, sce.Status)
	assert.Empty(t, c.SessionID())
}

func TestSendMessage_CreatesSessionOnDemand(t *testing.T) {
	srv := chattest.New(t, chattest.Options{})
	c := newTestClient(t, srv, nil)

	reply, err := c.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply)
	assert.Equal(t, 1, srv.CreateCalls())

	_, err = c.SendMessage(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.CreateCalls())
}

func TestSendMessage_RecoversExpiredSessionOnce(t *testing.T) {
	srv := chattest.New(t, chattest.Options{})
	st := memstore.New()
	require.NoError(t, st.Set(context.Background(), DefaultSessionKey, "sess-stale"))
	c := newTestClient(t, srv, st)

	reply, err := c.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", reply)
	assert.Equal(t, 1, srv.CreateCalls())
	assert.Equal(t, 2, srv.SendCalls())
	assert.NotEqual(t, "sess-stale", c.SessionID())

	stored, err := st.Get(context.Background(), DefaultSessionKey)
	require.NoError(t, err)
	assert.Equal(t, c.SessionID(), stored)
}

func TestSendMessage_RecoveryCreateFails(t *testing.T) {
	srv := chattest.New(t, chattest.Options{FailCreate: true})
	st := memstore.New()
	require.NoError(t, st.Set(context.Background(), DefaultSessionKey, "sess-stale"))
	c := newTestClient(t, srv, st)

	_, err := c.SendMessage(context.Background(), "hi")
	var sce *SessionCreationError
	require.ErrorAs(t, err, &sce)
	assert.Equal(t, 1, srv.CreateCalls())
	assert.Equal(t, 1, srv.SendCalls())
}

func TestSendMessage_EmptyMessage(t *testing.T) {
	srv := chattest.New(t, chattest.Options{})
	c := newTestClient(t, srv, nil)

	_, err := c.SendMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 0, srv.CreateCalls())
}

func TestSendMessage_TransportError(t *testing.T) {
	c, err := New(context.Background(), Options{
		BaseURL:    "http://127.0.0.1:1",
		Logger:     logging.Discard(),
		HTTPClient: &http.Client{Timeout: time.Second},
	})
	require.NoError(t, err)

	_, err = c.SendMessage(context.Background(), "hi")
	var sce *SessionCreationError
	require.ErrorAs(t, err, &sce)
	assert.Equal(t, defaultCreateSessionMsg, sce.Message)
	assert.Error(t, errors.Unwrap(sce))
}

func TestDeleteSession(t *testing.T) {
	srv := chattest.New(t, chattest.Options{})
	st := memstore.New()
	c := newTestClient(t, srv, st)

	assert.True(t, c.DeleteSession(context.Background()), "no session is a no-op")
	assert.Equal(t, 0, srv.DeleteCalls())

	id, err := c.CreateSession(context.Background())
	require.NoError(t, err)

	assert.True(t, c.DeleteSession(context.Background()))
	assert.Empty(t, c.SessionID())
	assert.False(t, srv.HasSession(id))
	_, err = st.Get(context.Background(), DefaultSessionKey)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.True(t, c.DeleteSession(context.Background()))
	assert.Equal(t, 1, srv.DeleteCalls())
}

func TestDeleteSession_FailureKeepsSession(t *testing.T) {
	srv := chattest.New(t, chattest.Options{FailDelete: true})
	c := newTestClient(t, srv, nil)

	id, err := c.CreateSession(context.Background())
	require.NoError(t, err)

	assert.False(t, c.DeleteSession(context.Background()))
	assert.Equal(t, id, c.SessionID())
}

func TestStartNewChat_IgnoresDeleteFailure(t *testing.T) {
	srv := chattest.New(t, chattest.Options{FailDelete: true})
	c := newTestClient(t, srv, nil)

	first, err := c.CreateSession(context.Background())
	require.NoError(t, err)

	second, err := c.StartNewChat(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, c.SessionID())
	assert.Equal(t, 1, srv.DeleteCalls())
}

func TestHistory(t *testing.T) {
	srv := chattest.New(t, chattest.Options{})
	c := newTestClient(t, srv, nil)

	assert.Empty(t, c.History(context.Background(), 10))

	_, err := c.SendMessage(context.Background(), "one")
	require.NoError(t, err)
	_, err = c.SendMessage(context.Background(), "two")
	require.NoError(t, err)

	msgs := c.History(context.Background(), 3)
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, "echo: two", msgs[2].Content)
}

func TestHistory_DegradesToEmpty(t *testing.T) {
	srv := chattest.New(t, chattest.Options{FailHistory: true})
	c := newTestClient(t, srv, nil)
	_, err := c.CreateSession(context.Background())
	require.NoError(t, err)

	msgs := c.History(context.Background(), 10)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestSigner_HeadersAttached(t *testing.T) {
	srv := chattest.New(t, chattest.Options{})
	signer, err := auth.NewHeaderSigner("secret", "user-1", time.Minute, "", "")
	require.NoError(t, err)

	c, err := New(context.Background(), Options{BaseURL: srv.URL, Signer: signer, Logger: logging.Discard()})
	require.NoError(t, err)

	_, err = c.CreateSession(context.Background())
	require.NoError(t, err)

	tok := srv.LastHeader(auth.HeaderAuth)
	require.NotEmpty(t, tok)
	sub, err := auth.ParseJWT(tok, []byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
	assert.NotEmpty(t, srv.LastHeader(auth.HeaderMTS))
	assert.Equal(t, "application/json", srv.LastHeader("Content-Type"))
}

// slowStore parks every Set until release is closed.
type slowStore struct {
	*memstore.Store
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) Set(ctx context.Context, key, value string) error {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.Set(ctx, key, value)
}

func TestCreateSession_StoreWriteDoesNotBlockReaders(t *testing.T) {
	srv := chattest.New(t, chattest.Options{})
	st := &slowStore{Store: memstore.New(), entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := newTestClient(t, srv, st)

	created := make(chan string, 1)
	go func() {
		id, err := c.CreateSession(context.Background())
		assert.NoError(t, err)
		created <- id
	}()
	<-st.entered

	read := make(chan string, 1)
	go func() {
		c.Abort()
		read <- c.SessionID()
	}()
	select {
	case id := <-read:
		assert.NotEmpty(t, id)
	case <-time.After(2 * time.Second):
		t.Fatalf("SessionID blocked behind the session store")
	}

	close(st.release)
	id := <-created
	stored, err := st.Get(context.Background(), DefaultSessionKey)
	require.NoError(t, err)
	assert.Equal(t, id, stored)
}

func TestDeleteSession_StaleWriteIsSkipped(t *testing.T) {
	srv := chattest.New(t, chattest.Options{})
	st := memstore.New()
	c := newTestClient(t, srv, st)

	id, err := c.CreateSession(context.Background())
	require.NoError(t, err)

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	require.True(t, c.DeleteSession(context.Background()))

	// a write scheduled before the delete must not resurrect the session
	c.persist(context.Background(), gen, id)
	_, err = st.Get(context.Background(), DefaultSessionKey)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
