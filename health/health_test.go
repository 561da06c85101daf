package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStartsInStartingState(t *testing.T) {
	tracker := NewTracker(3)
	assert.Equal(t, Starting, tracker.State())
}

func TestEmptyFirstPollIsHealthy(t *testing.T) {
	tracker := NewTracker(3)
	tracker.RecordPollResult(0, 0)
	assert.Equal(t, Healthy, tracker.State())
}

func TestAllSuccessIsHealthy(t *testing.T) {
	tracker := NewTracker(3)
	tracker.RecordPollResult(5, 0)
	assert.Equal(t, Healthy, tracker.State())
}

func TestMixedResultsAreDegraded(t *testing.T) {
	tracker := NewTracker(3)
	tracker.RecordPollResult(3, 2)
	assert.Equal(t, Degraded, tracker.State())
}

func TestConsecutiveFailuresReachUnhealthy(t *testing.T) {
	tracker := NewTracker(3)

	tracker.RecordPollResult(0, 2)
	assert.Equal(t, Degraded, tracker.State())
	tracker.RecordPollResult(0, 1)
	assert.Equal(t, Degraded, tracker.State())
	tracker.RecordPollResult(0, 4)
	assert.Equal(t, Unhealthy, tracker.State())
}

func TestSuccessClearsFailureStreak(t *testing.T) {
	tracker := NewTracker(3)

	tracker.RecordPollResult(0, 1)
	tracker.RecordPollResult(0, 1)
	tracker.RecordPollResult(2, 0)
	assert.Equal(t, Healthy, tracker.State())

	// The streak restarts from zero.
	tracker.RecordPollResult(0, 1)
	tracker.RecordPollResult(0, 1)
	assert.Equal(t, Degraded, tracker.State())
	tracker.RecordPollResult(0, 1)
	assert.Equal(t, Unhealthy, tracker.State())
}

func TestEmptyPollKeepsCurrentState(t *testing.T) {
	tracker := NewTracker(3)
	tracker.RecordPollResult(0, 1)
	assert.Equal(t, Degraded, tracker.State())

	tracker.RecordPollResult(0, 0)
	assert.Equal(t, Degraded, tracker.State())
}
