package register_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
	"github.com/opencyphal-garage/cynode/pkg/kv"
	"github.com/opencyphal-garage/cynode/pkg/register"
)

func TestAssignRules(t *testing.T) {
	t.Run("empty destination accepts anything", func(t *testing.T) {
		dst := register.Empty()
		require.NoError(t, register.Assign(&dst, register.String("abc")))
		require.Equal(t, "abc", dst.Str)
	})

	t.Run("same numeric variant copies overlapping prefix", func(t *testing.T) {
		dst := register.Natural16(0, 0, 0)
		require.NoError(t, register.Assign(&dst, register.Natural16(10, 20)))
		require.Equal(t, []int64{10, 20, 0}, dst.Ints)
	})

	t.Run("mismatched variant fails and leaves destination unchanged", func(t *testing.T) {
		dst := register.Natural16(7)
		err := register.Assign(&dst, register.Real32(1.5))
		require.Error(t, err)
		require.True(t, cyerr.Is(err, cyerr.KindSemantics))
		require.Equal(t, []int64{7}, dst.Ints, "P6: destination unchanged on refusal")
	})

	t.Run("mismatched width within KindInt fails", func(t *testing.T) {
		dst := register.Natural16(7)
		err := register.Assign(&dst, register.Natural8(9))
		require.Error(t, err)
	})
}

func TestValueBinaryRoundTrip(t *testing.T) {
	cases := []register.Value{
		register.Empty(),
		register.String("hello"),
		register.Natural16(1, 2, 3),
		register.Real32(1.5, -2.25),
		register.Unstructured([]byte{1, 2, 3, 4}),
		{Kind: register.KindBit, Bits: []bool{true, false, true, true, false}},
	}
	for _, v := range cases {
		data, err := v.MarshalBinary()
		require.NoError(t, err)
		var out register.Value
		require.NoError(t, out.UnmarshalBinary(data))
		require.Equal(t, v, out)
	}
}

func TestRegisterRoundTripThroughKV(t *testing.T) {
	// P5: writing a persistent, remotely-mutable register through Assign and
	// restarting the node (simulated by rebuilding the Tree against the same
	// KV store) yields the written value on next read.
	store, err := kv.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	tree := register.NewTree(store)
	_, err = tree.InitRegister("uavcan.node.description", register.String(""), true, true, nil)
	require.NoError(t, err)

	require.NoError(t, tree.Assign("uavcan.node.description", register.String("abc")))
	require.NoError(t, tree.StorePersistent())

	tree2 := register.NewTree(store)
	reg, err := tree2.InitRegister("uavcan.node.description", register.String(""), true, true, nil)
	require.NoError(t, err)
	require.Equal(t, "abc", reg.Read().Str)
}

func TestFindByIndexAndFreeze(t *testing.T) {
	tree := register.NewTree(nil)
	_, _ = tree.InitRegister("a", register.String(""), false, false, nil)
	_, _ = tree.InitRegister("b", register.String(""), false, false, nil)
	tree.Freeze()

	reg, ok := tree.FindByIndex(0)
	require.True(t, ok)
	require.Equal(t, "a", reg.Name)

	_, ok = tree.FindByIndex(2)
	require.False(t, ok)

	_, err := tree.InitRegister("c", register.String(""), false, false, nil)
	require.Error(t, err, "InitRegister after Freeze must fail")
}

func TestOverrideBypassesRemotelyMutableButNotGetter(t *testing.T) {
	tree := register.NewTree(nil)
	_, err := tree.InitRegister("uavcan.can.iface", register.String(""), true, false, nil)
	require.NoError(t, err)
	require.NoError(t, tree.Override("uavcan.can.iface", register.String("vcan0")))
	reg, _ := tree.FindByName("uavcan.can.iface")
	require.Equal(t, "vcan0", reg.Read().Str)

	_, err = tree.InitRegister("uavcan.diag.pool_used", register.Natural16(0), false, false, func() register.Value {
		return register.Natural16(42)
	})
	require.NoError(t, err)
	err = tree.Override("uavcan.diag.pool_used", register.Natural16(7))
	require.Error(t, err, "a dynamic (getter-backed) register must remain read-only even via Override")

	err = tree.Override("uavcan.does.not.exist", register.String("x"))
	require.Error(t, err)
}

func TestDynamicGetterNeverStored(t *testing.T) {
	store, err := kv.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	tree := register.NewTree(store)
	_, err = tree.InitRegister("uavcan.diag.pool_used", register.Natural16(0), true, false, func() register.Value {
		return register.Natural16(42)
	})
	require.NoError(t, err)
	require.NoError(t, tree.StorePersistent())

	_, ok := store.Get("uavcan.diag.pool_used")
	require.False(t, ok, "dynamic registers must never be persisted")
}
