package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
	"github.com/opencyphal-garage/cynode/pkg/dispatch"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

func TestEnableRejectedWhileAnonymous(t *testing.T) {
	d := dispatch.New()
	err := d.Enable(dsdl.NodeIDUnset)
	require.Error(t, err)
	require.True(t, cyerr.Is(err, cyerr.KindAnonymous))
	require.False(t, d.Enabled())
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	d := dispatch.New()
	require.NoError(t, d.Register(100, true, func(transfer.Received) ([]byte, error) { return nil, nil }))
	err := d.Register(100, true, func(transfer.Received) ([]byte, error) { return nil, nil })
	require.Error(t, err)
	require.True(t, cyerr.Is(err, cyerr.KindAlreadyExists))

	// Same service-ID but the other role is a distinct registration.
	require.NoError(t, d.Register(100, false, func(transfer.Received) ([]byte, error) { return nil, nil }))
}

func TestDispatchRoutesByServiceAndRole(t *testing.T) {
	d := dispatch.New()
	var gotReq, gotResp bool
	require.NoError(t, d.Register(42, true, func(r transfer.Received) ([]byte, error) {
		gotReq = true
		return []byte{1, 2, 3}, nil
	}))
	require.NoError(t, d.Register(42, false, func(r transfer.Received) ([]byte, error) {
		gotResp = true
		return nil, nil
	}))
	require.NoError(t, d.Enable(7))

	resp, matched, err := d.Dispatch(transfer.Received{PortID: 42, Kind: transfer.KindRequest})
	require.NoError(t, err)
	require.True(t, matched)
	require.True(t, gotReq)
	require.Equal(t, []byte{1, 2, 3}, resp)

	_, matched, err = d.Dispatch(transfer.Received{PortID: 42, Kind: transfer.KindResponse})
	require.NoError(t, err)
	require.True(t, matched)
	require.True(t, gotResp)
}

func TestDispatchDiscardsUnmatchedAndWhileDisabled(t *testing.T) {
	d := dispatch.New()
	require.NoError(t, d.Register(1, true, func(transfer.Received) ([]byte, error) { return nil, nil }))

	_, matched, err := d.Dispatch(transfer.Received{PortID: 999, Kind: transfer.KindRequest})
	require.NoError(t, err)
	require.False(t, matched, "dispatch must be disabled (never Enabled) and discard silently")

	require.NoError(t, d.Enable(7))
	_, matched, err = d.Dispatch(transfer.Received{PortID: 999, Kind: transfer.KindRequest})
	require.NoError(t, err)
	require.False(t, matched, "unregistered service-ID must be discarded, not error")

	d.Disable()
	_, matched, err = d.Dispatch(transfer.Received{PortID: 1, Kind: transfer.KindRequest})
	require.NoError(t, err)
	require.False(t, matched)
}
