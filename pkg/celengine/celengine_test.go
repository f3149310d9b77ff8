package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func attrs(caps ...string) map[string]any {
	return map[string]any{
		VarClientID:     "c1",
		VarHostname:     "build-01",
		VarPlatform:     "linux",
		VarVersion:      "1.2.0",
		VarCapabilities: caps,
	}
}

func TestEvaluate(t *testing.T) {
	ok, err := Evaluate(`"gpu" in capabilities && platform == "linux"`, attrs("gpu", "docker"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Evaluate(`"gpu" in capabilities`, attrs("docker"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = Evaluate("", nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestValidateExpression(t *testing.T) {
	require.NoError(t, ValidateExpression(`hostname.startsWith("build-")`))
	require.Error(t, ValidateExpression(`hostname +`))
	require.Error(t, ValidateExpression(`hostname`), "non-bool selectors are rejected")
	require.Error(t, ValidateExpression(`unknown_var == 1`))
}
