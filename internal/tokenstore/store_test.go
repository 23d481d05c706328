package tokenstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type memSlot struct {
	token    string
	err      error
	clearErr error
	loads    int
}

func (s *memSlot) Load(context.Context) (string, error) {
	s.loads++
	return s.token, s.err
}
func (s *memSlot) Save(_ context.Context, token string) error {
	if s.err != nil {
		return s.err
	}
	s.token = token
	return nil
}
func (s *memSlot) Clear(context.Context) error {
	if s.err != nil {
		return s.err
	}
	if s.clearErr != nil {
		return s.clearErr
	}
	s.token = ""
	return nil
}

func TestStore(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		s := New(nil, nil)

		s.Set(t.Context(), "access-1")
		require.Equal(t, "access-1", s.Get(t.Context()))

		s.Set(t.Context(), "")
		require.Equal(t, "", s.Get(t.Context()), "cleared store must return none")
	})

	t.Run("mirrors into slot", func(t *testing.T) {
		slot := &memSlot{}
		s := New(slot, nil)

		s.Set(t.Context(), "access-1")
		require.Equal(t, "access-1", slot.token)

		s.Set(t.Context(), "")
		require.Equal(t, "", slot.token, "clearing must remove the durable copy too")
	})

	t.Run("recovers from slot after restart", func(t *testing.T) {
		slot := &memSlot{}
		New(slot, nil).Set(t.Context(), "access-1")

		restarted := New(slot, nil)

		require.Equal(t, "access-1", restarted.Get(t.Context()))
	})

	t.Run("memory wins over slot", func(t *testing.T) {
		slot := &memSlot{token: "stale"}
		s := New(slot, nil)
		s.Set(t.Context(), "fresh")
		slot.token = "changed-elsewhere"

		require.Equal(t, "fresh", s.Get(t.Context()))
	})

	t.Run("slot errors are not surfaced", func(t *testing.T) {
		slot := &memSlot{err: errors.New("storage is full")}
		s := New(slot, nil)

		s.Set(t.Context(), "access-1")

		require.Equal(t, "access-1", s.Get(t.Context()), "in-memory value must still be served")

		s.Set(t.Context(), "")
		require.Equal(t, "", s.Get(t.Context()))
	})

	t.Run("failed slot clear still clears", func(t *testing.T) {
		slot := &memSlot{clearErr: errors.New("permission denied")}
		s := New(slot, nil)

		s.Set(t.Context(), "old-token")
		s.Set(t.Context(), "")

		require.Equal(t, "old-token", slot.token, "slot kept the stale copy")
		require.Equal(t, "", s.Get(t.Context()), "cleared store must not resurrect the slot copy")
	})

	t.Run("slot read once after restart", func(t *testing.T) {
		slot := &memSlot{token: "access-1"}
		s := New(slot, nil)

		for range 3 {
			require.Equal(t, "access-1", s.Get(t.Context()))
		}
		require.Equal(t, 1, slot.loads)
	})

	t.Run("empty slot after restart is read once", func(t *testing.T) {
		slot := &memSlot{}
		s := New(slot, nil)

		require.Equal(t, "", s.Get(t.Context()))
		require.Equal(t, "", s.Get(t.Context()))
		require.Equal(t, 1, slot.loads)
	})
}
