package veneer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsVeneerWithinRange(t *testing.T) {
	assert.False(t, NeedsVeneer(0, 1000))
	assert.False(t, NeedsVeneer(0, maxDirectBranchRange))
	assert.True(t, NeedsVeneer(0, maxDirectBranchRange+4))
}

func TestSlotAllocationIsStableAndDeduplicated(t *testing.T) {
	s := NewScanner()
	a := s.Slot("memcpy")
	b := s.Slot("memcpy")
	c := s.Slot("malloc")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, []string{"memcpy", "malloc"}, s.Names())
}

func TestPlanOrdersBySlotIndex(t *testing.T) {
	s := NewScanner()
	s.Slot("b")
	s.Slot("a")
	entries := s.Plan(map[string]bool{"b": true})
	assert.Equal(t, "b", entries[0].Name)
	assert.True(t, entries[0].IsExternal)
	assert.False(t, entries[1].IsExternal)
}
