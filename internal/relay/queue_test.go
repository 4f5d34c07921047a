package relay

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingQueue(t *testing.T) {
	t.Run("fifo", func(t *testing.T) {
		q := newPendingQueue(0)
		for _, s := range []string{"a", "b", "c"} {
			require.NoError(t, q.push(Frame{Type: websocket.BinaryMessage, Data: []byte(s)}))
		}
		assert.Equal(t, 3, q.len())

		got := q.drain()
		require.Len(t, got, 3)
		assert.Equal(t, "a", string(got[0].Data))
		assert.Equal(t, "b", string(got[1].Data))
		assert.Equal(t, "c", string(got[2].Data))
		assert.Equal(t, 0, q.len())
		assert.Empty(t, q.drain())
	})

	t.Run("bounded", func(t *testing.T) {
		q := newPendingQueue(2)
		require.NoError(t, q.push(Frame{}))
		require.NoError(t, q.push(Frame{}))
		assert.ErrorIs(t, q.push(Frame{}), ErrPendingOverflow)
		assert.Equal(t, 2, q.len())
	})

	t.Run("reset", func(t *testing.T) {
		q := newPendingQueue(0)
		q.push(Frame{})
		q.reset()
		assert.Equal(t, 0, q.len())
	})
}

func TestFrameKind(t *testing.T) {
	assert.Equal(t, "text", Frame{Type: websocket.TextMessage}.kind())
	assert.Equal(t, "binary", Frame{Type: websocket.BinaryMessage}.kind())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CONNECTING_UPSTREAM", StateConnectingUpstream.String())
	assert.Equal(t, "HANDSHAKE_PENDING", StateHandshakePending.String())
	assert.Equal(t, "STREAMING", StateStreaming.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
