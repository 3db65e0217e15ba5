package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingQueueFIFO(t *testing.T) {
	q := NewPendingQueue(8)
	for i := range 5 {
		require.NoError(t, q.Append([]byte(fmt.Sprintf("m%d", i))))
	}
	assert.Equal(t, 5, q.Len())

	got := q.Drain()
	require.Len(t, got, 5)
	for i, msg := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i), string(msg))
	}
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Drain(), "second drain is empty")
}

func TestPendingQueueBound(t *testing.T) {
	q := NewPendingQueue(2)
	require.NoError(t, q.Append([]byte("a")))
	require.NoError(t, q.Append([]byte("b")))

	err := q.Append([]byte("c"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.MaxLen())
}

func TestPendingQueueClear(t *testing.T) {
	q := NewPendingQueue(2)
	require.NoError(t, q.Append([]byte("a")))
	q.Clear()
	assert.Zero(t, q.Len())
	require.NoError(t, q.Append([]byte("b")))
}
