package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/eventbus"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	bus := eventbus.New(zap.NewNop(), eventbus.Config{Workers: 1})
	t.Cleanup(func() { _ = bus.Stop() })
	return New(bus, zap.NewNop())
}

func TestNotifyReturnsIDAndRecordsHistory(t *testing.T) {
	svc := newTestService(t)
	before := time.Now().Add(-time.Second)

	id, err := svc.Notify("TaskCreated", map[string]string{"task_id": "t1"}, 0, "user-1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	replayed := svc.Replay("user-1", before)
	require.Len(t, replayed, 1)
	assert.Equal(t, id, replayed[0].ID)
}

func TestReplayFiltersByRecipientAndExpiry(t *testing.T) {
	svc := newTestService(t)
	before := time.Now().Add(-time.Second)

	_, err := svc.Notify("A", nil, 0, "user-1", nil)
	require.NoError(t, err)
	_, err = svc.Notify("B", nil, 0, "user-2", nil)
	require.NoError(t, err)

	expired := time.Now().Add(-time.Minute)
	_, err = svc.Notify("C", nil, 0, "user-1", &expired)
	require.NoError(t, err)

	replayed := svc.Replay("user-1", before)
	require.Len(t, replayed, 1)
	assert.Equal(t, "A", replayed[0].Type)
}

func TestReplayIncludesBroadcasts(t *testing.T) {
	svc := newTestService(t)
	before := time.Now().Add(-time.Second)

	_, err := svc.Notify("Broadcast", nil, 0, "", nil)
	require.NoError(t, err)

	replayed := svc.Replay("anyone", before)
	require.Len(t, replayed, 1)
	assert.Equal(t, "Broadcast", replayed[0].Type)
}
