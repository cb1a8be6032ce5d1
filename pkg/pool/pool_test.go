package pool

import (
	"testing"
	"time"

	"starbench/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(suspect, dead int) *Pool {
	return New(Config{SuspectThreshold: suspect, DeadThreshold: dead, DefaultCapacity: 1}, LeastLoaded{})
}

func TestRegisterAssignsHealthyZeroLoad(t *testing.T) {
	p := newTestPool(2, 3)

	w, displaced := p.Register("tcp://worker-a:9100", 2, "1.0.0")
	assert.Empty(t, displaced)
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, model.WorkerHealthHealthy, w.Health)
	assert.Equal(t, 2, w.Capacity)
	assert.Equal(t, 0, w.Load)
}

func TestReRegisterReplacesStaleRecordAndDisplacesSessions(t *testing.T) {
	p := newTestPool(2, 3)

	old, _ := p.Register("tcp://worker-a:9100", 1, "")
	_, err := p.Acquire("sess-1")
	require.NoError(t, err)

	// Same endpoint comes back: new process, old binding is gone.
	fresh, displaced := p.Register("tcp://worker-a:9100", 1, "")
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, []string{"sess-1"}, displaced)

	_, ok := p.Get(old.ID)
	assert.False(t, ok)
	got, ok := p.Get(fresh.ID)
	require.True(t, ok)
	assert.Equal(t, 0, got.Load)
}

func TestAcquireLeastLoadedWithOldestTieBreak(t *testing.T) {
	p := newTestPool(2, 3)

	first, _ := p.Register("tcp://worker-a:9100", 2, "")
	time.Sleep(2 * time.Millisecond)
	p.Register("tcp://worker-b:9100", 2, "")

	// Equal ratios: oldest registration wins.
	w, err := p.Acquire("sess-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, w.ID)

	// worker-a now at 1/2, worker-b at 0/2: worker-b wins.
	w2, err := p.Acquire("sess-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, w2.ID)
}

func TestAcquireExhausted(t *testing.T) {
	p := newTestPool(2, 3)

	p.Register("tcp://worker-a:9100", 1, "")
	_, err := p.Acquire("sess-1")
	require.NoError(t, err)

	_, err = p.Acquire("sess-2")
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestAcquireSkipsSuspectWorkers(t *testing.T) {
	p := newTestPool(1, 3)

	w, _ := p.Register("tcp://worker-a:9100", 4, "")
	_, err := p.RecordProbeFailure(w.ID)
	require.NoError(t, err)

	got, ok := p.Get(w.ID)
	require.True(t, ok)
	assert.Equal(t, model.WorkerHealthSuspect, got.Health)

	_, err = p.Acquire("sess-1")
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestReleaseDecrementsExactlyOnce(t *testing.T) {
	p := newTestPool(2, 3)

	w, _ := p.Register("tcp://worker-a:9100", 2, "")
	_, err := p.Acquire("sess-1")
	require.NoError(t, err)

	p.Release(w.ID, "sess-1")
	p.Release(w.ID, "sess-1") // second release is a no-op

	got, ok := p.Get(w.ID)
	require.True(t, ok)
	assert.Equal(t, 0, got.Load)
	assert.Empty(t, got.BoundSessions)
}

func TestHealthTransitionThresholds(t *testing.T) {
	// Suspect at 2 misses, dead one cycle later.
	p := newTestPool(2, 3)
	w, _ := p.Register("tcp://worker-a:9100", 1, "")
	_, err := p.Acquire("sess-1")
	require.NoError(t, err)

	_, err = p.RecordProbeFailure(w.ID)
	require.NoError(t, err)
	got, _ := p.Get(w.ID)
	assert.Equal(t, model.WorkerHealthHealthy, got.Health, "one miss is below the suspect threshold")

	_, err = p.RecordProbeFailure(w.ID)
	require.NoError(t, err)
	got, _ = p.Get(w.ID)
	assert.Equal(t, model.WorkerHealthSuspect, got.Health)

	detached, err := p.RecordProbeFailure(w.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1"}, detached)

	_, ok := p.Get(w.ID)
	assert.False(t, ok, "dead worker is drained and removed")
}

func TestHeartbeatRecoversSuspectWithoutReachingDead(t *testing.T) {
	p := newTestPool(2, 3)
	w, _ := p.Register("tcp://worker-a:9100", 1, "")

	p.RecordProbeFailure(w.ID)
	p.RecordProbeFailure(w.ID)
	got, _ := p.Get(w.ID)
	require.Equal(t, model.WorkerHealthSuspect, got.Health)

	require.NoError(t, p.MarkHeartbeat(w.ID))
	got, _ = p.Get(w.ID)
	assert.Equal(t, model.WorkerHealthHealthy, got.Health)
	assert.Equal(t, 0, got.MissedProbes)
}

func TestHeartbeatFromDrainedWorkerIsUnknown(t *testing.T) {
	p := newTestPool(1, 2)
	w, _ := p.Register("tcp://worker-a:9100", 1, "")

	p.RecordProbeFailure(w.ID)
	p.RecordProbeFailure(w.ID)

	assert.ErrorIs(t, p.MarkHeartbeat(w.ID), ErrUnknownWorker)
}

func TestSweepStaleDebouncesToDead(t *testing.T) {
	p := newTestPool(1, 2)
	w, _ := p.Register("tcp://worker-a:9100", 1, "")
	_, err := p.Acquire("sess-1")
	require.NoError(t, err)

	detached := p.SweepStale(time.Now().Add(15*time.Second), 10*time.Second)
	assert.Empty(t, detached, "first stale cycle only reaches SUSPECT")

	got, _ := p.Get(w.ID)
	assert.Equal(t, model.WorkerHealthSuspect, got.Health)

	detached = p.SweepStale(time.Now().Add(30*time.Second), 10*time.Second)
	assert.Contains(t, detached, "sess-1")
}

func TestSweepStaleSkipsFreshWorkers(t *testing.T) {
	p := newTestPool(1, 2)
	w, _ := p.Register("tcp://worker-a:9100", 1, "")

	detached := p.SweepStale(time.Now(), 10*time.Second)
	assert.Empty(t, detached)

	got, _ := p.Get(w.ID)
	assert.Equal(t, model.WorkerHealthHealthy, got.Health)
	assert.Equal(t, 0, got.MissedProbes)
}
