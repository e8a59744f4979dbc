package progress

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(t *testing.T) (*Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	p, err := New("redis://"+mr.Addr()+"/0", nil)
	require.NoError(t, err)
	return p, mr
}

func TestUpdateStageThenRead(t *testing.T) {
	p, _ := newTestPublisher(t)
	ctx := context.Background()

	p.UpdateStage(ctx, 7, "triage")
	fields, err := p.Read(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "triage", fields["stage"])
}

func TestUpdateStepThenComplete(t *testing.T) {
	p, _ := newTestPublisher(t)
	ctx := context.Background()

	p.UpdateStep(ctx, 1, 2, 5, "running semgrep", "running")
	fields, err := p.Read(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "running", fields["status"])
	assert.Equal(t, "running semgrep", fields["message"])

	p.Complete(ctx, 1)
	fields, err = p.Read(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "completed", fields["status"])
}

func TestFailRecordsError(t *testing.T) {
	p, _ := newTestPublisher(t)
	ctx := context.Background()

	p.Fail(ctx, 3, "readiness timeout")
	fields, err := p.Read(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "failed", fields["status"])
	assert.Equal(t, "readiness timeout", fields["error"])
}

func TestWriteIsFireAndForgetWhenRedisUnavailable(t *testing.T) {
	p, mr := newTestPublisher(t)
	mr.Close()

	assert.NotPanics(t, func() {
		p.UpdateStage(context.Background(), 99, "triage")
	})
}
