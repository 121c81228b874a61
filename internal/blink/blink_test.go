package blink

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/pulse-sensor/internal/gpio"
)

func TestStartRejectsInvalidRate(t *testing.T) {
	b := New(gpio.NewFakeOutput(), nil)

	assert.ErrorIs(t, b.Start(0), ErrInvalidRate)
	assert.ErrorIs(t, b.Start(-30), ErrInvalidRate)
	assert.False(t, b.Running())
}

func TestStartWhileRunning(t *testing.T) {
	out := gpio.NewFakeOutput()
	b := New(out, nil)
	require.NoError(t, b.Start(30))
	defer b.Stop()

	assert.ErrorIs(t, b.Start(60), ErrRunning)
	assert.Equal(t, 30, b.Rate())
}

func TestBlinkToggles(t *testing.T) {
	out := gpio.NewFakeOutput()
	b := New(out, nil)

	// 600 bpm -> 50ms half-period.
	require.NoError(t, b.Start(600))
	assert.True(t, b.Running())

	require.Eventually(t, func() bool { return out.WriteCount() >= 4 }, 2*time.Second, 5*time.Millisecond)
	b.Stop()

	writes := out.Writes()
	assert.False(t, writes[0], "first write should drive the line low")
	for i := 1; i < len(writes); i++ {
		assert.NotEqual(t, writes[i-1], writes[i], "write %d should toggle", i)
	}
	assert.Equal(t, uint64(len(writes)), b.Toggles())
}

func TestStopJoins(t *testing.T) {
	out := gpio.NewFakeOutput()
	b := New(out, nil)
	require.NoError(t, b.Start(600))
	require.Eventually(t, func() bool { return out.WriteCount() >= 2 }, 2*time.Second, 5*time.Millisecond)

	b.Stop()
	assert.False(t, b.Running())
	assert.Equal(t, 0, b.Rate())

	n := out.WriteCount()
	time.Sleep(150 * time.Millisecond) // three half-periods
	assert.Equal(t, n, out.WriteCount(), "no writes after Stop returns")
}

func TestStopReturnsLastLevel(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4} {
		out := gpio.NewFakeOutput()
		b := New(out, nil)
		require.NoError(t, b.Start(600))
		require.Eventually(t, func() bool { return out.WriteCount() >= n }, 2*time.Second, time.Millisecond)

		level := b.Stop()
		assert.Equal(t, out.Level(), level, "after %d writes", n)
		assert.Equal(t, level, b.Level())
		assert.Equal(t, level, b.Stop(), "stopped blinker keeps its level")
	}
}

func TestStopIsPrompt(t *testing.T) {
	out := gpio.NewFakeOutput()
	b := New(out, nil)

	// 1 bpm -> 30s half-period; Stop must not wait for the sleep.
	require.NoError(t, b.Start(1))
	require.Eventually(t, func() bool { return out.WriteCount() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	b.Stop()
	assert.Less(t, time.Since(start), time.Second)
}

func TestStopWhenStopped(t *testing.T) {
	b := New(gpio.NewFakeOutput(), nil)
	b.Stop()
	b.Stop()
	assert.False(t, b.Running())
}

func TestRestartAfterStop(t *testing.T) {
	out := gpio.NewFakeOutput()
	b := New(out, nil)

	require.NoError(t, b.Start(30))
	b.Stop()
	require.NoError(t, b.Start(60))
	assert.Equal(t, 60, b.Rate())
	b.Stop()

	assert.Zero(t, out.Overlaps())
}

func TestWriteErrorKeepsBlinking(t *testing.T) {
	out := gpio.NewFakeOutput()
	out.SetError(errors.New("line busy"))
	b := New(out, nil)

	require.NoError(t, b.Start(600))
	time.Sleep(120 * time.Millisecond)
	assert.True(t, b.Running())
	assert.Zero(t, b.Toggles())

	out.SetError(nil)
	require.Eventually(t, func() bool { return out.WriteCount() >= 1 }, 2*time.Second, 5*time.Millisecond)
	b.Stop()
}

func TestBlinkTimingTracksHalfPeriod(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	out := gpio.NewFakeOutput()
	b := New(out, nil)

	// 300 bpm -> 100ms half-period; writes at 0,100,...,500ms.
	require.NoError(t, b.Start(300))
	time.Sleep(550 * time.Millisecond)
	b.Stop()

	n := out.WriteCount()
	assert.GreaterOrEqual(t, n, 5)
	assert.LessOrEqual(t, n, 7)
}
