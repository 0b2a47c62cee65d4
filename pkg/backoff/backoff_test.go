package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff_NonDecreasing(t *testing.T) {
	b := NewExponential()

	var prev time.Duration
	for i := 0; i < 20; i++ {
		next := b.GetNext()
		if next < prev {
			t.Fatalf("delay decreased at attempt %d: %v after %v", i, next, prev)
		}
		prev = next
	}
}

func TestExponentialBackoff_Capped(t *testing.T) {
	b := NewExponential()

	var last time.Duration
	for i := 0; i < 64; i++ {
		last = b.GetNext()
	}

	assert.Equal(t, b.MaxDelay, last)
}

func TestExponentialBackoff_Reset(t *testing.T) {
	b := &ExponentialBackoff{
		BaseDelay: 50 * time.Millisecond,
		Factor:    2.0,
		MaxDelay:  time.Second,
	}

	first := b.GetNext()
	b.GetNext()
	b.GetNext()

	b.Reset()
	afterReset := b.GetNext()

	assert.Equal(t, first, afterReset)
}

func TestExponentialBackoff_NoJitterExactSequence(t *testing.T) {
	b := &ExponentialBackoff{
		BaseDelay: 100 * time.Millisecond,
		Factor:    2.0,
		MaxDelay:  time.Second,
	}

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}

	for i, want := range expected {
		got := b.GetNext()
		if got != want {
			t.Errorf("attempt %d: expected %v but got %v", i, want, got)
		}
	}
}

func TestTestBackoff(t *testing.T) {
	b := &TestBackoff{Delay: 5 * time.Millisecond}

	assert.Equal(t, 5*time.Millisecond, b.GetNext())
	assert.Equal(t, 5*time.Millisecond, b.GetNext())
	b.Reset()

	assert.Equal(t, 2, b.GetCount)
	assert.Equal(t, 1, b.ResetCount)
}
