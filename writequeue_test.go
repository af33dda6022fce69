package asynctcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueuedBufferDone(t *testing.T) {
	b := newQueuedBuffer([]byte("ping"), true)
	assert.False(t, b.done())
	b.written = 2
	assert.False(t, b.done())
	b.written = 4
	assert.True(t, b.done())
}

func TestWriteQueueFIFO(t *testing.T) {
	var q writeQueue
	assert.True(t, q.empty())
	assert.Nil(t, q.head())

	first := newQueuedBuffer([]byte("a"), false)
	second := newQueuedBuffer([]byte("b"), false)
	q.push(first)
	q.push(second)

	assert.False(t, q.empty())
	assert.Same(t, first, q.head())

	q.popHead()
	assert.Same(t, second, q.head())

	q.popHead()
	assert.True(t, q.empty())
}

func TestWriteQueueDrain(t *testing.T) {
	var q writeQueue
	q.push(newQueuedBuffer([]byte("a"), true))
	q.push(newQueuedBuffer([]byte("b"), true))
	q.drain()
	assert.True(t, q.empty())
}
