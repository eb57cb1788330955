package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/medflow/config"
)

func TestInit_Disabled(t *testing.T) {
	t.Parallel()

	p, err := Init(config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdown_NilReceiver(t *testing.T) {
	t.Parallel()

	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}
