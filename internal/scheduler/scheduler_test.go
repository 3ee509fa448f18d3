package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerFiresAndStops(t *testing.T) {
	var count atomic.Int32
	s := NewTicker()

	c := s.Every("test", 5*time.Millisecond, func() {
		count.Add(1)
	})

	require.Eventually(t, func() bool {
		return count.Load() >= 2
	}, time.Second, time.Millisecond, "cadence should fire repeatedly")

	assert.True(t, c.Stop(time.Second), "cadence should drain promptly")

	settled := count.Load()
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, settled, count.Load(), "no fires after Stop")
}

func TestTickerStopIsIdempotent(t *testing.T) {
	s := NewTicker()
	c := s.Every("test", time.Millisecond, func() {})
	assert.True(t, c.Stop(time.Second))
	assert.True(t, c.Stop(time.Second))
}

func TestTickerIsolatesPanics(t *testing.T) {
	var count atomic.Int32
	s := NewTicker()

	c := s.Every("panicky", 5*time.Millisecond, func() {
		count.Add(1)
		panic("boom")
	})
	defer c.Stop(time.Second)

	require.Eventually(t, func() bool {
		return count.Load() >= 2
	}, time.Second, time.Millisecond, "cadence should survive a panicking body")
}

func TestManualFire(t *testing.T) {
	var fired int
	m := NewManual()
	m.Every("routine", time.Second, func() { fired++ })

	assert.True(t, m.Fire("routine"))
	assert.True(t, m.Fire("routine"))
	assert.Equal(t, 2, fired)

	assert.False(t, m.Fire("unknown"))
}

func TestManualStopPreventsFire(t *testing.T) {
	var fired int
	m := NewManual()
	c := m.Every("routine", time.Second, func() { fired++ })

	c.Stop(0)
	assert.False(t, m.Fire("routine"))
	assert.Equal(t, 0, fired)
	assert.True(t, m.Stopped("routine"))
}
