package rediskey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildIntervalGateKey(t *testing.T) {
	require.Equal(t, "octopus:gate:t1:c1", BuildIntervalGateKey("t1", "c1"))
}
