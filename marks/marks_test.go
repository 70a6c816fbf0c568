package marks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateSequenceAcrossBranchesForOneChangeset(t *testing.T) {
	a := New()

	m1 := a.Allocate("main", 7)
	m2 := a.Allocate("dev", 7)
	m3 := a.Allocate("main", 7)

	assert.Equal(t, 700, m1)
	assert.Equal(t, 701, m2)
	assert.Equal(t, 702, m3)

	mark, ok := a.Lookup(7, "main")
	assert.True(t, ok)
	assert.Equal(t, 702, mark)

	last, ok := a.LastForBranch("main")
	assert.True(t, ok)
	assert.Equal(t, 702, last)
}

func TestAllocateResetsCounterOnChangesetChange(t *testing.T) {
	a := New()
	a.Allocate("main", 7)
	m := a.Allocate("main", 8)
	assert.Equal(t, 800, m)
}

func TestLookupMissReturnsFalse(t *testing.T) {
	a := New()
	_, ok := a.Lookup(1, "main")
	assert.False(t, ok)
	_, ok = a.LastForBranch("main")
	assert.False(t, ok)
}
