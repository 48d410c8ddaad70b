package periodic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTask_RunsOnInterval(t *testing.T) {
	base := time.Unix(1000, 0)
	var calls []time.Time
	task := New("broadcast", 100*time.Millisecond, func(now time.Time) { calls = append(calls, now) })

	assert.False(t, task.Poll(base), "stopped task must not run")

	task.Start(base.Add(100 * time.Millisecond))
	assert.False(t, task.Poll(base.Add(50*time.Millisecond)))
	assert.True(t, task.Poll(base.Add(100*time.Millisecond)))
	assert.False(t, task.Poll(base.Add(150*time.Millisecond)))
	assert.True(t, task.Poll(base.Add(200*time.Millisecond)))

	assert.Equal(t, uint64(2), task.Runs())
	assert.Len(t, calls, 2)
}

func TestTask_StartImmediately(t *testing.T) {
	now := time.Unix(1000, 0)
	runs := 0
	task := New("ping", 20*time.Second, func(time.Time) { runs++ })
	task.Start(now)
	assert.True(t, task.Poll(now))
	assert.Equal(t, 1, runs)
}

func TestTask_StopIsObservedOnNextPoll(t *testing.T) {
	now := time.Unix(1000, 0)
	runs := 0
	task := New("upload", time.Millisecond, func(time.Time) { runs++ })
	task.Start(now)
	task.Poll(now)
	task.Stop()
	assert.False(t, task.Active())
	assert.False(t, task.Poll(now.Add(time.Second)))
	assert.Equal(t, 1, runs)
}

func TestTask_DoesNotReplayMissedIntervals(t *testing.T) {
	now := time.Unix(1000, 0)
	runs := 0
	task := New("upload", 100*time.Millisecond, func(time.Time) { runs++ })
	task.Start(now)
	task.Poll(now)

	late := now.Add(time.Second)
	assert.True(t, task.Poll(late))
	assert.False(t, task.Poll(late.Add(50*time.Millisecond)))
	assert.Equal(t, 2, runs)
}

func TestTask_SetInterval(t *testing.T) {
	now := time.Unix(1000, 0)
	task := New("broadcast", 100*time.Millisecond, func(time.Time) {})
	task.Start(now)
	task.Poll(now)
	task.SetInterval(time.Second)
	assert.Equal(t, time.Second, task.Interval())

	// 已排定的执行保持原时刻
	assert.True(t, task.Poll(now.Add(100*time.Millisecond)))
	assert.False(t, task.Poll(now.Add(500*time.Millisecond)))
	assert.True(t, task.Poll(now.Add(1100*time.Millisecond)))
}
