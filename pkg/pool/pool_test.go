package pool_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencyphal-garage/cynode/pkg/pool"
)

func TestAllocateDeallocateRoundTrip(t *testing.T) {
	p := pool.New(4*64, 64)

	bufs := make([][]byte, 0, 4)
	for i := 0; i < 4; i++ {
		buf, ok := p.Allocate(32)
		require.True(t, ok)
		bufs = append(bufs, buf)
	}

	_, ok := p.Allocate(32)
	require.False(t, ok, "pool should be exhausted after 4 allocations")
	require.Equal(t, 1, p.Diagnostics().OOM)

	for _, buf := range bufs {
		p.Deallocate(buf)
	}
	require.Equal(t, 0, p.Diagnostics().Used)

	// P9: after processing N transfers, the used counter returns to its
	// initial value (no leaks across the allocate/deallocate cycle).
	for i := 0; i < 100; i++ {
		buf, ok := p.Allocate(16)
		require.True(t, ok)
		p.Deallocate(buf)
	}
	diag := p.Diagnostics()
	require.Equal(t, 0, diag.Used)
	require.Equal(t, 4, diag.Peak)
}

func TestAllocateRejectsOversizedRequest(t *testing.T) {
	p := pool.New(128, 64)
	_, ok := p.Allocate(65)
	require.False(t, ok)
	require.Equal(t, 1, p.Diagnostics().OOM)
}

func TestAllocateOrErrReturnsMemoryKind(t *testing.T) {
	p := pool.New(64, 64)
	_, err := p.AllocateOrErr("test", 64)
	require.NoError(t, err)

	_, err = p.AllocateOrErr("test", 64)
	require.Error(t, err)
}
