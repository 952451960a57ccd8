package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstant(t *testing.T) {
	s := NewConstant(2 * time.Second)

	assert.Equal(t, 2*time.Second, s.Delay(1))
	assert.Equal(t, 2*time.Second, s.Delay(5))
}

func TestExponential(t *testing.T) {
	s := NewExponential(time.Second, 30*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponential_FirstAttemptFloor(t *testing.T) {
	s := NewExponential(500*time.Millisecond, 10*time.Second)

	assert.Equal(t, 500*time.Millisecond, s.Delay(0))
	assert.Equal(t, 500*time.Millisecond, s.Delay(-1))
}
