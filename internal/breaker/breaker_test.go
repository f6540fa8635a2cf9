package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniport-systems/omniport/internal/models"
)

const dest = models.DestinationDefault

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry() (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(DefaultConfig())
	r.SetClock(clock.Now)
	return r, clock
}

func trip(r *Registry, destination models.Destination) {
	for i := 0; i < DefaultConfig().FailureThreshold; i++ {
		r.RecordFailure(destination)
	}
}

func TestRegistry_DefaultsClosed(t *testing.T) {
	r, _ := newTestRegistry()

	assert.Equal(t, StateClosed, r.GetState(dest))
	assert.True(t, r.Allow(dest))
}

func TestRegistry_OpensAtThreshold(t *testing.T) {
	r, _ := newTestRegistry()

	for i := 0; i < 4; i++ {
		r.RecordFailure(dest)
	}
	assert.Equal(t, StateClosed, r.GetState(dest), "4 failures must not trip the circuit")

	r.RecordFailure(dest)
	assert.Equal(t, StateOpen, r.GetState(dest))
	assert.False(t, r.Allow(dest))
}

func TestRegistry_RollingWindowResets(t *testing.T) {
	r, clock := newTestRegistry()

	for i := 0; i < 4; i++ {
		r.RecordFailure(dest)
	}
	clock.Advance(61 * time.Second)

	// Window expired: this failure starts a fresh count
	r.RecordFailure(dest)
	assert.Equal(t, StateClosed, r.GetState(dest))
}

func TestRegistry_HalfOpenAfterCooldown(t *testing.T) {
	r, clock := newTestRegistry()
	trip(r, dest)

	clock.Advance(29 * time.Second)
	assert.False(t, r.Allow(dest), "cooldown not yet elapsed")

	clock.Advance(2 * time.Second)
	assert.True(t, r.Allow(dest), "first caller after cooldown gets the trial")
	assert.Equal(t, StateHalfOpen, r.GetState(dest))
}

func TestRegistry_SingleTrialInHalfOpen(t *testing.T) {
	r, clock := newTestRegistry()
	trip(r, dest)
	clock.Advance(31 * time.Second)

	require.True(t, r.Allow(dest))
	assert.False(t, r.Allow(dest), "second caller must not get a concurrent trial")
	assert.False(t, r.Allow(dest))
}

func TestRegistry_TrialSuccessCloses(t *testing.T) {
	r, clock := newTestRegistry()
	trip(r, dest)
	clock.Advance(31 * time.Second)

	require.True(t, r.Allow(dest))
	r.RecordSuccess(dest)

	assert.Equal(t, StateClosed, r.GetState(dest))
	assert.True(t, r.Allow(dest))

	// Failure count was reset with the close
	for i := 0; i < 4; i++ {
		r.RecordFailure(dest)
	}
	assert.Equal(t, StateClosed, r.GetState(dest))
}

func TestRegistry_TrialFailureReopens(t *testing.T) {
	r, clock := newTestRegistry()
	trip(r, dest)
	clock.Advance(31 * time.Second)

	require.True(t, r.Allow(dest))
	r.RecordFailure(dest)

	assert.Equal(t, StateOpen, r.GetState(dest))
	assert.False(t, r.Allow(dest), "reopened circuit starts a fresh cooldown")

	// A second cooldown grants a new trial
	clock.Advance(31 * time.Second)
	assert.True(t, r.Allow(dest))
}

func TestRegistry_PerDestinationIsolation(t *testing.T) {
	r, _ := newTestRegistry()
	trip(r, dest)

	assert.Equal(t, StateOpen, r.GetState(dest))
	assert.Equal(t, StateClosed, r.GetState(models.DestinationVoice))
	assert.True(t, r.Allow(models.DestinationVoice))
}

func TestRegistry_Snapshot(t *testing.T) {
	r, _ := newTestRegistry()
	r.RecordSuccess(dest)
	trip(r, models.DestinationWebhook)

	snapshot := r.Snapshot()
	assert.Equal(t, "CLOSED", snapshot[dest])
	assert.Equal(t, "OPEN", snapshot[models.DestinationWebhook])
}

func TestRegistry_TransitionsRecorded(t *testing.T) {
	r, clock := newTestRegistry()
	trip(r, dest)
	clock.Advance(31 * time.Second)
	require.True(t, r.Allow(dest))
	r.RecordSuccess(dest)

	transitions := r.Transitions()
	require.Len(t, transitions, 3)
	assert.Equal(t, StateClosed, transitions[0].From)
	assert.Equal(t, StateOpen, transitions[0].To)
	assert.Equal(t, StateHalfOpen, transitions[1].To)
	assert.Equal(t, StateClosed, transitions[2].To)
}

func TestRegistry_Reset(t *testing.T) {
	r, _ := newTestRegistry()
	trip(r, dest)
	require.Equal(t, StateOpen, r.GetState(dest))

	r.Reset(dest)

	assert.Equal(t, StateClosed, r.GetState(dest))
	assert.True(t, r.Allow(dest))
}
