package cansock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencyphal-garage/cynode/pkg/dsdl"
)

func TestCANIDRoundTrip(t *testing.T) {
	cases := []canID{
		{Priority: dsdl.PriorityNominal, IsService: false, PortID: 100, Source: 125, Destination: dsdl.NodeIDUnset},
		{Priority: dsdl.PriorityFast, IsService: true, IsRequest: true, PortID: 384, Source: 10, Destination: 20},
		{Priority: dsdl.PriorityExceptional, IsService: false, PortID: 0, Source: dsdl.NodeIDUnset, Destination: dsdl.NodeIDUnset},
	}
	for _, c := range cases {
		id := encodeCANID(c)
		require.Equal(t, id, id&canIDMask, "must stay within 29 bits")
		require.Equal(t, c, decodeCANID(id))
	}
}
