// Package storetest holds the behaviour every store.SessionStore must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ola-suite/internal/store"
)

func Run(t *testing.T, s store.SessionStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "ola_chat_session_id", "sess-1"))
		v, err := s.Get(ctx, "ola_chat_session_id")
		require.NoError(t, err)
		assert.Equal(t, "sess-1", v)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "ola_chat_session_id", "sess-2"))
		v, err := s.Get(ctx, "ola_chat_session_id")
		require.NoError(t, err)
		assert.Equal(t, "sess-2", v)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, s.Remove(ctx, "ola_chat_session_id"))
		_, err := s.Get(ctx, "ola_chat_session_id")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("remove missing is a no-op", func(t *testing.T) {
		assert.NoError(t, s.Remove(ctx, "never-set"))
	})
}
