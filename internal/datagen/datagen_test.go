package datagen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInternStringDeduplicates(t *testing.T) {
	p := New()
	a := p.InternString("hello")
	b := p.InternString("hello")
	c := p.InternString("world")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestInternFloatDistinguishesSignedZero(t *testing.T) {
	p := New()
	pos := p.InternFloat(0.0)
	neg := p.InternFloat(-0.0) //nolint:staticcheck // distinct bit pattern is the point
	assert.NotEqual(t, pos, neg)
}

func TestInternListSharesIdenticalChains(t *testing.T) {
	p := New()
	e1 := p.InternString("a")
	e2 := p.InternString("b")
	l1 := p.InternList([]int{e1, e2})
	l2 := p.InternList([]int{e1, e2})
	assert.Equal(t, l1, l2)
}

func TestInternListEmptyIsNullSentinel(t *testing.T) {
	p := New()
	assert.Equal(t, 0, p.InternList(nil))
}

func TestDeclareGlobalIsIdempotent(t *testing.T) {
	p := New()
	a := p.DeclareGlobal("counter")
	b := p.DeclareGlobal("counter")
	assert.Equal(t, a, b)
	assert.Len(t, p.Data, 8)
}
