package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "overdue", FormatDuration(-time.Second))
	assert.Equal(t, "5 minutes", FormatDuration(5*time.Minute+10*time.Second))
	assert.Equal(t, "2 hours, 3 minutes", FormatDuration(2*time.Hour+3*time.Minute))
	assert.Equal(t, "1 days, 4 hours", FormatDuration(28*time.Hour))
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "250µs", FormatElapsed(250*time.Microsecond))
	assert.Equal(t, "12ms", FormatElapsed(12*time.Millisecond))
	assert.Equal(t, "1.50s", FormatElapsed(1500*time.Millisecond))
	assert.Equal(t, "2m5s", FormatElapsed(125*time.Second))
}
