package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-systems/vigil/pkg/config"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, config.TelemetrySettings{Enabled: false}, "test")
	require.NoError(t, err)

	// All of these must be safe without an exporter.
	p.CycleCompleted(ctx, time.Second, 3, 1)
	p.RecordSubjectRequest(ctx, "access", true)
	_, span := p.StartSpan(ctx, "noop")
	span.End()

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())
	assert.NoError(t, p.Shutdown(ctx))
}
