package timeoutcfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	c := New()
	assert.Equal(t, 10*time.Second, c.UnaryTimeout())
	assert.Equal(t, 30*time.Second, c.FanOutTimeout())
}

func TestSetOverridesAndClamps(t *testing.T) {
	c := New()
	c.SetUnaryTimeout(5)
	assert.Equal(t, 5*time.Second, c.UnaryTimeout())

	c.SetUnaryTimeout(0)
	assert.Equal(t, time.Duration(DefaultUnaryTimeout)*time.Second, c.UnaryTimeout())

	c.SetFanOutTimeout(-1)
	assert.Equal(t, time.Duration(DefaultFanOutTimeout)*time.Second, c.FanOutTimeout())
}
