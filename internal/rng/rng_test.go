package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeeded_Reproducible(t *testing.T) {
	a := New(42)
	b := New(42)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Intn(1000), b.Intn(1000))
	}
}

func TestSeeded_Range(t *testing.T) {
	s := New(7)
	for i := 0; i < 1000; i++ {
		v := s.Intn(10)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 10)
	}
	assert.Equal(t, 0, s.Intn(0))
	assert.Equal(t, 0, s.Intn(-5))
}

func TestDeriveSeed(t *testing.T) {
	assert.Equal(t, DeriveSeed(1, "battle"), DeriveSeed(1, "battle"))
	assert.NotEqual(t, DeriveSeed(1, "battle"), DeriveSeed(2, "battle"))
	assert.NotEqual(t, DeriveSeed(1, "battle"), DeriveSeed(1, "rebirth"))
	assert.Equal(t, DeriveSeed(9, "x"), NewDerived(9, "x").Seed())
}

func TestFixed(t *testing.T) {
	f := NewFixed(3, 12, -4)
	assert.Equal(t, 3, f.Intn(10))
	assert.Equal(t, 2, f.Intn(10))
	assert.Equal(t, 4, f.Intn(10))
	assert.Equal(t, 3, f.Intn(10), "cycles")
	assert.Equal(t, 4, f.Calls())

	assert.Equal(t, 0, NewFixed().Intn(10))
}
