package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomReady(t *testing.T) {
	t.Run("fires only when both live participants are ready", func(t *testing.T) {
		r := newRoom()

		assert.False(t, r.setReady("a", true, 2))
		assert.True(t, r.setReady("b", true, 2))
	})

	t.Run("fires at most once per question", func(t *testing.T) {
		r := newRoom()

		r.setReady("a", true, 2)
		assert.True(t, r.setReady("b", true, 2))

		// Toggling off and on again must not re-fire.
		assert.False(t, r.setReady("a", false, 2))
		assert.False(t, r.setReady("a", true, 2))
	})

	t.Run("does not fire with a lone connection", func(t *testing.T) {
		r := newRoom()

		r.setReady("a", true, 1)
		assert.False(t, r.setReady("b", true, 1))
	})

	t.Run("fires again after reset", func(t *testing.T) {
		r := newRoom()

		r.setReady("a", true, 2)
		assert.True(t, r.setReady("b", true, 2))

		r.reset()

		r.setReady("a", true, 2)
		assert.True(t, r.setReady("b", true, 2))
	})

	t.Run("repeat toggles to the same value are idempotent", func(t *testing.T) {
		r := newRoom()

		r.setReady("a", true, 2)
		assert.False(t, r.setReady("a", true, 2))
		snapshot := r.readySnapshot()
		assert.Len(t, snapshot, 1)
		assert.True(t, snapshot["a"])
	})
}

func TestRoomAnswers(t *testing.T) {
	t.Run("holds the first answer back", func(t *testing.T) {
		r := newRoom()

		selections, reveal := r.setAnswer("a", "opt-1", 2)
		assert.False(t, reveal)
		assert.Nil(t, selections)
	})

	t.Run("reveals both selections at once", func(t *testing.T) {
		r := newRoom()

		r.setAnswer("a", "opt-1", 2)
		selections, reveal := r.setAnswer("b", "opt-2", 2)

		assert.True(t, reveal)
		assert.Equal(t, map[string]string{"a": "opt-1", "b": "opt-2"}, selections)
	})

	t.Run("a resubmission overwrites the earlier choice", func(t *testing.T) {
		r := newRoom()

		r.setAnswer("a", "opt-1", 2)
		r.setAnswer("a", "opt-3", 2)
		selections, reveal := r.setAnswer("b", "opt-2", 2)

		assert.True(t, reveal)
		assert.Equal(t, "opt-3", selections["a"])
	})
}

func TestRoomPending(t *testing.T) {
	t.Run("counts distinct clickers", func(t *testing.T) {
		r := newRoom()

		count, first := r.addPending("a")
		assert.Equal(t, 1, count)
		assert.True(t, first)

		count, first = r.addPending("a")
		assert.Equal(t, 1, count)
		assert.False(t, first)

		count, _ = r.addPending("b")
		assert.Equal(t, 2, count)
	})

	t.Run("clearPending reports whether anything was pending", func(t *testing.T) {
		r := newRoom()

		assert.False(t, r.clearPending())
		r.addPending("a")
		assert.True(t, r.clearPending())
		assert.Equal(t, 0, r.pendingCount())
	})

	t.Run("reset empties the pending set", func(t *testing.T) {
		r := newRoom()

		r.addPending("a")
		r.addPending("b")
		r.reset()
		assert.Equal(t, 0, r.pendingCount())
	})
}

func TestRooms(t *testing.T) {
	t.Run("get is lazy and stable per session", func(t *testing.T) {
		rooms := NewRooms()

		a := rooms.get("sess-1")
		b := rooms.get("sess-1")
		c := rooms.get("sess-2")

		assert.Same(t, a, b)
		assert.NotSame(t, a, c)
	})

	t.Run("drop discards state", func(t *testing.T) {
		rooms := NewRooms()

		before := rooms.get("sess-1")
		before.addPending("a")
		rooms.Drop("sess-1")

		after := rooms.get("sess-1")
		assert.NotSame(t, before, after)
		assert.Equal(t, 0, after.pendingCount())
	})
}
