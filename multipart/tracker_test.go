package multipart

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Ack(t *testing.T) {
	tracker := NewTracker(3)

	finalize, err := tracker.Ack(1)
	require.NoError(t, err)
	assert.False(t, finalize)

	finalize, err = tracker.Ack(1)
	assert.ErrorIs(t, err, ErrDuplicateAck)
	assert.False(t, finalize, "duplicate ack must not count")
	assert.Equal(t, 2, tracker.Pending())

	finalize, err = tracker.Ack(0)
	require.NoError(t, err)
	assert.False(t, finalize)

	finalize, err = tracker.Ack(2)
	require.NoError(t, err)
	assert.True(t, finalize)
	assert.Equal(t, 0, tracker.Pending())
	assert.Equal(t, 3, tracker.Succeeded())

	finalize, err = tracker.Ack(2)
	assert.ErrorIs(t, err, ErrDuplicateAck)
	assert.False(t, finalize)
}

func TestTracker_Ack_OutOfRange(t *testing.T) {
	tracker := NewTracker(2)

	for _, index := range []int{-1, 2} {
		_, err := tracker.Ack(index)
		assert.Error(t, err)
	}
	assert.Equal(t, 2, tracker.Pending())
}

func TestTracker_Ack_ConcurrentFinalizesOnce(t *testing.T) {
	const parts = 200

	tracker := NewTracker(parts)
	var finalizeCount int32
	var wg sync.WaitGroup

	for i := 0; i < parts; i++ {
		for dup := 0; dup < 3; dup++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				finalize, err := tracker.Ack(index)
				if err == nil && finalize {
					atomic.AddInt32(&finalizeCount, 1)
				}
			}(i)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), finalizeCount)
	assert.Equal(t, 0, tracker.Pending())
}

func TestTracker_Fail(t *testing.T) {
	tracker := NewTracker(2)
	reason := errors.New("rejected")

	_, err := tracker.Ack(0)
	require.NoError(t, err)

	tracker.Fail(0, reason)
	tracker.Fail(1, reason)

	outcome, failure := tracker.Outcome(0)
	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.NoError(t, failure)

	outcome, failure = tracker.Outcome(1)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, reason, failure)
	assert.Equal(t, "failed", outcome.String())
	assert.Equal(t, 1, tracker.Pending())
}

func TestTracker_ZeroParts(t *testing.T) {
	tracker := NewTracker(0)
	assert.Equal(t, 0, tracker.Pending())

	_, err := tracker.Ack(0)
	assert.Error(t, err)
}
