package experiment

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/expflow/types"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		current types.Status
		target  types.Status
		wantErr bool
	}{
		{"draft to running", types.StatusDraft, types.StatusRunning, false},
		{"running to paused", types.StatusRunning, types.StatusPaused, false},
		{"running to completed", types.StatusRunning, types.StatusCompleted, false},
		{"paused to running", types.StatusPaused, types.StatusRunning, false},
		{"paused to completed", types.StatusPaused, types.StatusCompleted, false},
		{"draft to paused", types.StatusDraft, types.StatusPaused, true},
		{"draft to completed", types.StatusDraft, types.StatusCompleted, true},
		{"running to draft", types.StatusRunning, types.StatusDraft, true},
		{"paused to draft", types.StatusPaused, types.StatusDraft, true},
		{"completed to running", types.StatusCompleted, types.StatusRunning, true},
		{"completed to paused", types.StatusCompleted, types.StatusPaused, true},
		{"completed to draft", types.StatusCompleted, types.StatusDraft, true},
		{"self transition running", types.StatusRunning, types.StatusRunning, true},
		{"unknown current", types.Status("archived"), types.StatusRunning, true},
		{"unknown target", types.StatusRunning, types.Status("archived"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Transition(tt.current, tt.target)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrCodeInvalidTransition, types.GetErrorCode(err))
				assert.Contains(t, err.Error(), string(tt.current))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, next)
		})
	}
}

func TestTransitionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	statusGen := gen.OneConstOf(
		types.StatusDraft,
		types.StatusRunning,
		types.StatusPaused,
		types.StatusCompleted,
	)

	properties.Property("successful transitions land on the target", prop.ForAll(
		func(current, target types.Status) bool {
			next, err := Transition(current, target)
			if err != nil {
				return next == ""
			}
			return next == target
		},
		statusGen, statusGen,
	))

	properties.Property("completed is terminal", prop.ForAll(
		func(target types.Status) bool {
			_, err := Transition(types.StatusCompleted, target)
			return err != nil
		},
		statusGen,
	))

	properties.Property("CanTransition agrees with Transition", prop.ForAll(
		func(current, target types.Status) bool {
			_, err := Transition(current, target)
			return CanTransition(current, target) == (err == nil)
		},
		statusGen, statusGen,
	))

	properties.TestingRun(t)
}
