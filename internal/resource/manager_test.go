package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeRecordsStatus(t *testing.T) {
	rm := NewResourceManagerService(map[string]interface{}{"heartbeat_interval": "1m"})
	rm.AddCheck("store", func(context.Context) error { return nil })
	rm.AddCheck("archive", func(context.Context) error { return errors.New("bucket missing") })

	_, healthy := rm.Snapshot()
	require.False(t, healthy)

	rm.Probe(context.Background())
	statuses, healthy := rm.Snapshot()
	require.False(t, healthy)
	require.Len(t, statuses, 2)
	require.Equal(t, "archive", statuses[0].Name)
	require.Equal(t, "bucket missing", statuses[0].Error)
	require.True(t, statuses[1].Healthy)
}

func TestStopIsIdempotent(t *testing.T) {
	rm := NewResourceManagerService(nil)
	require.NoError(t, rm.Start())
	require.NoError(t, rm.Stop())
	require.NoError(t, rm.Stop())
}
