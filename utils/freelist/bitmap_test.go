package freelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmapFreeList(t *testing.T) {
	bitmap := make([]byte, 4)
	fl := NewBitmapFreeList(bitmap, 1, 32)

	assert.Equal(t, uint64(32), fl.FreeCount())

	for i := uint64(1); i <= 10; i++ {
		slot, ok := fl.Get()
		assert.True(t, ok)
		assert.Equal(t, i, slot)
	}
	assert.Equal(t, uint64(22), fl.FreeCount())
	assert.False(t, fl.IsFree(3))

	fl.Release(3)
	assert.True(t, fl.IsFree(3))

	slot, ok := fl.Get()
	assert.True(t, ok)
	assert.Equal(t, uint64(3), slot)

	// out of range slots are ignored
	fl.Release(100)
	assert.Equal(t, uint64(22), fl.FreeCount())
}

func TestBitmapFreeListExhaustion(t *testing.T) {
	bitmap := make([]byte, 1)
	fl := NewBitmapFreeList(bitmap, 1, 8)

	for i := 0; i < 8; i++ {
		_, ok := fl.Get()
		assert.True(t, ok)
	}
	_, ok := fl.Get()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), fl.FreeCount())
}
