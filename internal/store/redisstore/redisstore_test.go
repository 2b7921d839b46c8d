package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/ola-suite/internal/store"
	"github.com/suPer8Hu/ola-suite/internal/store/storetest"
)

func TestStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), mr.Addr(), "", 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	storetest.Run(t, s)
}

func TestStore_KeysArePrefixedAndExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), mr.Addr(), "", 0, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "ola_chat_session_id", "sess-1"))

	got, err := mr.Get("ola:ola_chat_session_id")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got)
	assert.Equal(t, time.Hour, mr.TTL("ola:ola_chat_session_id"))

	mr.FastForward(time.Hour + time.Second)
	_, err = s.Get(ctx, "ola_chat_session_id")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNew_PingFailure(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), addr, "", 0, 0)
	assert.Error(t, err)
}

// Against a real server: OLA_TEST_REDIS_ADDR=127.0.0.1:6379 go test ./internal/store/redisstore
func TestStore_LiveServer(t *testing.T) {
	addr := os.Getenv("OLA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OLA_TEST_REDIS_ADDR not set")
	}
	s, err := New(context.Background(), addr, "", 15, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	storetest.Run(t, s)
}
