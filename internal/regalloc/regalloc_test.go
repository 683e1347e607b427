package regalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyrange/bcplc/internal/liveness"
)

func TestAllocateSimpleNonOverlapping(t *testing.T) {
	intervals := []liveness.Interval{
		{Name: "a", Start: 0, End: 2},
		{Name: "b", Start: 3, End: 5},
	}
	res, err := Allocate(intervals, nil)
	require.NoError(t, err)
	assert.Len(t, res.Assignments, 2)
	assert.Equal(t, InRegister, res.Assignments["a"].Kind)
	assert.Equal(t, InRegister, res.Assignments["b"].Kind)
}

func TestAllocateCallCrossingPrefersCalleeSaved(t *testing.T) {
	intervals := []liveness.Interval{
		{Name: "survivor", Start: 0, End: 10, CrossesCall: true},
	}
	res, err := Allocate(intervals, map[int]bool{5: true})
	require.NoError(t, err)
	al := res.Assignments["survivor"]
	require.Equal(t, InRegister, al.Kind)
	assert.True(t, al.Register.CalleeSaved)
}

func TestAllocateSpillsWhenPoolExhausted(t *testing.T) {
	// More concurrently-live local integer intervals than the combined
	// pool has registers for forces at least one spill.
	poolSize := len(IntCalleeSaved) + len(IntCallerSaved)
	intervals := make([]liveness.Interval, 0, poolSize+2)
	for i := 0; i < poolSize+2; i++ {
		intervals = append(intervals, liveness.Interval{Name: nameFor(i), Start: 0, End: 1000})
	}
	res, err := Allocate(intervals, nil)
	require.NoError(t, err)

	spilled := 0
	for _, al := range res.Assignments {
		if al.Kind == Spilled {
			spilled++
		}
	}
	assert.GreaterOrEqual(t, spilled, 2)
}

func nameFor(i int) string {
	return string(rune('a'+i%26)) + string(rune('0'+i/26))
}
