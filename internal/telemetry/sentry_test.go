package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_EmptyDSNIsNoop(t *testing.T) {
	flush, err := Init(Config{}, nil)
	require.NoError(t, err)
	require.NotNil(t, flush)
	assert.NotPanics(t, flush)
}

func TestHelpersWithoutClient(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "tools/call")
	assert.NotNil(t, ctx)
	assert.NotPanics(t, func() {
		span.SetTag("tool", "mem_save")
		span.SetError()
		span.End()
		CaptureError(ctx, errors.New("boom"))
		CaptureError(ctx, nil)
	})
}
