package breaker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsMalformedCondition(t *testing.T) {
	require.Error(t, Validate(Config{StopIf: "nonsense"}))
	require.NoError(t, Validate(Config{StopIf: "errors > 10%"}))
}

func TestRegistryColdStartProtection(t *testing.T) {
	reg := NewRegistry(Config{StopIf: "errors > 10%", MinSamples: 10})
	for i := 0; i < 9; i++ {
		require.False(t, reg.Observe("a", true))
	}
}

func TestRegistryTripsPerRouteIndependently(t *testing.T) {
	reg := NewRegistry(Config{StopIf: "errors > 50%", MinSamples: 2})
	require.False(t, reg.Observe("a", true))
	require.True(t, reg.Observe("a", true))
	require.True(t, reg.ForRoute("a").Tripped())
	require.False(t, reg.ForRoute("b").Tripped())
}

func TestRegistryNilTemplateIsNoop(t *testing.T) {
	reg := NewRegistry(Config{})
	require.Nil(t, reg.ForRoute("a"))
	require.False(t, reg.Observe("a", true))
}

func TestResetAllowsRetrip(t *testing.T) {
	reg := NewRegistry(Config{StopIf: "errors > 0%", MinSamples: 1})
	require.True(t, reg.Observe("a", true))
	b := reg.ForRoute("a")
	b.Reset()
	require.False(t, b.Tripped())
	require.True(t, reg.Observe("a", true))
}
