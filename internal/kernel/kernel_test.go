package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caplet-dev/caplet/internal/config"
	"github.com/caplet-dev/caplet/internal/shutdown"
)

func Test_Kernel_WiresAndStops(t *testing.T) {
	cfg := config.Default()
	cfg.ShutdownTimeoutMS = 5000
	cfg.Workflow.CheckpointDir = t.TempDir()

	k, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	require.NotNil(t, k.Capabilities)
	require.NotNil(t, k.Policy)
	require.NotNil(t, k.Plugins)
	require.NotNil(t, k.Workflows)
	require.NotNil(t, k.Audit)
	require.NotNil(t, k.Host())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, k.Stop(ctx))

	// A second stop is rejected.
	err = k.Stop(ctx)
	var already *shutdown.AlreadyInProgressError
	assert.ErrorAs(t, err, &already)
}

func Test_Kernel_NilConfigUsesDefaults(t *testing.T) {
	k, err := New(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default().AuditBufferSize, k.Config.AuditBufferSize)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, k.Stop(ctx))
}
