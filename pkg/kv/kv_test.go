package kv_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencyphal-garage/cynode/pkg/kv"
)

func TestPutGetDropRoundTrip(t *testing.T) {
	s, err := kv.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.Put("uavcan.node.description", []byte("abc")))

	data, ok := s.Get("uavcan.node.description")
	require.True(t, ok)
	require.Equal(t, "abc", string(data))

	_, ok = s.Get("uavcan.node.id")
	require.False(t, ok, "missing key should report not-ok, not error")

	require.True(t, s.Drop("uavcan.node.description"))
	_, ok = s.Get("uavcan.node.description")
	require.False(t, ok)
}

func TestStorageKeyIsStableAndShort(t *testing.T) {
	k1 := kv.StorageKey("uavcan.pub.feedback.id")
	k2 := kv.StorageKey("uavcan.pub.feedback.id")
	require.Equal(t, k1, k2)
	require.LessOrEqual(t, len(k1), 11)

	k3 := kv.StorageKey("uavcan.pub.dynamics.id")
	require.NotEqual(t, k1, k3)
}
