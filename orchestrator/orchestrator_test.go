package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jupiterxyz/zkbridge/config"
)

// Run's per-mode wiring dials real L1/L2/Mongo endpoints, so it is
// exercised by the system as a whole rather than in-process; the one
// thing safely unit-testable here is mode dispatch itself.
func TestRun_UnknownModeReturnsErrorBeforeDialingAnything(t *testing.T) {
	cfg := &config.Config{Mode: config.Mode("bogus")}
	err := Run(context.Background(), cfg)
	require.Error(t, err)
}
