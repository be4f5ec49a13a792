package gameserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox_Push(t *testing.T) {
	o := NewOutbox("c1", 4)
	require.NoError(t, o.Push([]byte("hello")))

	frame := <-o.Frames()
	assert.Equal(t, []byte("hello"), frame)
}

func TestOutbox_PushClosed(t *testing.T) {
	o := NewOutbox("c1", 4)
	require.NoError(t, o.Close())
	assert.True(t, o.IsClosed())
	assert.Error(t, o.Push([]byte("fail")))
}

func TestOutbox_PushFull(t *testing.T) {
	o := NewOutbox("c1", 1)
	require.NoError(t, o.Push([]byte("first")))
	err := o.Push([]byte("overflow"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "buffer full")
}

func TestOutbox_CloseIdempotent(t *testing.T) {
	o := NewOutbox("c1", 4)
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	assert.True(t, o.IsClosed())
}

func TestOutbox_DefaultBuffer(t *testing.T) {
	o := NewOutbox("c1", 0)
	for i := 0; i < 64; i++ {
		require.NoError(t, o.Push([]byte("x")))
	}
	assert.Error(t, o.Push([]byte("overflow")))
}
