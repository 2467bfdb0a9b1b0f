package udpmcast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupForPortStaysInSpecPrefix(t *testing.T) {
	g := groupForPort(100)
	require.Equal(t, byte(239), g.To4()[0], "multicast group must be in 239.0.0.0/8")

	g2 := groupForPort(101)
	require.NotEqual(t, g.String(), g2.String(), "distinct port-IDs must map to distinct groups")
}
