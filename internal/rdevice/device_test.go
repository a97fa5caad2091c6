package rdevice

import (
	"testing"

	"rdmaxfer/internal/rerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMRBoundary(t *testing.T) {
	ctx, err := Init(0, 1, 1024)
	require.NoError(t, err)

	_, err = ctx.CreateMR(0)
	require.Error(t, err)
	assert.True(t, rerrors.Is(err, rerrors.EInvalidArgument))

	_, err = ctx.CreateMR(1025)
	require.Error(t, err)
	assert.True(t, rerrors.Is(err, rerrors.EResourceExhausted))

	mr, err := ctx.CreateMR(1024)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ctx.FreeBytes())

	require.NoError(t, ctx.DestroyMR(mr))
	assert.EqualValues(t, 1024, ctx.FreeBytes())
	assert.Equal(t, 0, ctx.LiveMRCount())
}

func TestRegistryAccountingInvariant(t *testing.T) {
	const pool = 4096
	ctx, err := Init(0, 1, pool)
	require.NoError(t, err)

	mrs := make([]*MemoryRegion, 0, 4)
	for i := 0; i < 4; i++ {
		mr, err := ctx.CreateMR(512)
		require.NoError(t, err)
		mrs = append(mrs, mr)
	}

	var live int64
	for _, mr := range mrs {
		live += mr.Length
	}
	assert.EqualValues(t, pool, live+ctx.FreeBytes())

	require.NoError(t, ctx.DestroyMR(mrs[1]))
	live -= mrs[1].Length
	assert.EqualValues(t, pool, live+ctx.FreeBytes())
}

func TestUnboundedPoolAdoptsFirstRequest(t *testing.T) {
	ctx, err := Init(0, 1, PoolUnbounded)
	require.NoError(t, err)

	mr, err := ctx.CreateMR(2048)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ctx.FreeBytes())
	assert.EqualValues(t, 2048, mr.Length)

	_, err = ctx.CreateMR(1)
	require.Error(t, err)
	assert.True(t, rerrors.Is(err, rerrors.EResourceExhausted))
}
