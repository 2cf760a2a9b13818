package transfermodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from  State
		event Event
		want  State
	}{
		{StatePending, EventScheduled, StateInProgress},
		{StateInProgress, EventProgress, StateInProgress},
		{StateInProgress, EventFinished, StateComplete},
		{StateInProgress, EventError, StateFailed},
		{StateInProgress, EventPause, StatePaused},
		{StatePending, EventPause, StatePaused},
		{StatePaused, EventResume, StatePending},
		{StateFailed, EventResume, StatePending},
		{StatePending, EventCancel, StateCanceled},
		{StateInProgress, EventCancel, StateCanceled},
		{StatePaused, EventCancel, StateCanceled},
		{StateFailed, EventCancel, StateCanceled},
		{StateComplete, EventRemove, StateDeleted},
		{StatePending, EventRemove, StateDeleted},
	}

	for _, c := range cases {
		got, err := Transition(c.from, c.event)
		require.NoError(t, err, "from=%s event=%s", c.from, c.event)
		assert.Equal(t, c.want, got, "from=%s event=%s", c.from, c.event)
	}
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	_, err := Transition(StateComplete, EventPause)
	require.Error(t, err)
	var invalid *ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StateComplete, invalid.From)
}

func TestTransitionRemoveIsIdempotentTerminal(t *testing.T) {
	_, err := Transition(StateDeleted, EventRemove)
	require.Error(t, err)
}

func TestApplyMutatesInPlace(t *testing.T) {
	s := StatePending
	require.NoError(t, Apply(&s, EventScheduled))
	assert.Equal(t, StateInProgress, s)

	err := Apply(&s, EventResume)
	require.Error(t, err)
	assert.Equal(t, StateInProgress, s, "failed Apply must not mutate state")
}

func TestPredicates(t *testing.T) {
	assert.True(t, StatePending.Pauseable())
	assert.True(t, StateInProgress.Pauseable())
	assert.False(t, StatePaused.Pauseable())

	assert.True(t, StatePaused.Resumable())
	assert.True(t, StateFailed.Resumable())
	assert.False(t, StatePending.Resumable())

	assert.True(t, StateComplete.Terminal())
	assert.True(t, StateCanceled.Terminal())
	assert.True(t, StateDeleted.Terminal())
	assert.False(t, StateInProgress.Terminal())
}
