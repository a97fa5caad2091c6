package bufpool

import (
	"testing"

	"rdmaxfer/internal/rdevice"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicSlicing(t *testing.T) {
	ctx, err := rdevice.Init(0, 1, rdevice.PoolUnbounded)
	require.NoError(t, err)

	const blockSizeKiB = 64
	const blockCount = 16
	slotLen := int64(blockSizeKiB * 1024)
	mr, err := ctx.CreateMR(slotLen * blockCount)
	require.NoError(t, err)

	pool, err := New(mr, slotLen)
	require.NoError(t, err)
	require.Equal(t, blockCount, pool.Len())

	for i := 0; i < blockCount; i++ {
		slot := pool.Slot(uint32(i))
		assert.EqualValues(t, i, slot.Index)
		assert.EqualValues(t, int64(i)*slotLen, slot.Offset)
		assert.EqualValues(t, slotLen, slot.Length)
	}
}

func TestRemainderDiscarded(t *testing.T) {
	ctx, err := rdevice.Init(0, 1, rdevice.PoolUnbounded)
	require.NoError(t, err)

	slotLen := int64(4096)
	mr, err := ctx.CreateMR(slotLen*3 + 100)
	require.NoError(t, err)

	pool, err := New(mr, slotLen)
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Len())
}

func TestNilMRRejected(t *testing.T) {
	_, err := New(nil, 1024)
	require.Error(t, err)
}
