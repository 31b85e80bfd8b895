package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAfterDebounces(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var fired atomic.Int32
	var last atomic.Int32
	for i := 1; i <= 5; i++ {
		n := int32(i)
		s.After("autoSync", 40*time.Millisecond, func() {
			fired.Add(1)
			last.Store(n)
		})
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, s.Pending("autoSync"))
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 5, last.Load(), "only the last callback runs")
	require.False(t, s.Pending("autoSync"))

	time.Sleep(60 * time.Millisecond)
	require.EqualValues(t, 1, fired.Load())
}

func TestClear(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var fired atomic.Bool
	s.After("once", 20*time.Millisecond, func() { fired.Store(true) })
	require.True(t, s.Clear("once"))
	require.False(t, s.Clear("once"))
	time.Sleep(50 * time.Millisecond)
	require.False(t, fired.Load())
}

func TestEveryUntilStopped(t *testing.T) {
	s := New(nil)

	var ticks atomic.Int32
	s.Every("periodic", 10*time.Millisecond, func() { ticks.Add(1) })
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"periodic"}, s.Names())

	s.Stop()
	stopped := ticks.Load()
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, stopped, ticks.Load())
	require.False(t, s.Pending("periodic"))

	s.After("late", time.Millisecond, func() { ticks.Add(100) })
	require.False(t, s.Pending("late"), "stopped scheduler ignores new timers")
}

func TestPanickingTaskDoesNotStopSchedule(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var ticks atomic.Int32
	s.Every("flaky", 10*time.Millisecond, func() {
		if ticks.Add(1) == 1 {
			panic("boom")
		}
	})
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestStopWaitsForRunningAfter(t *testing.T) {
	s := New(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	s.After("debounced", time.Millisecond, func() {
		close(started)
		<-release
		finished.Store(true)
	})
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a callback was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the callback finished")
	}
	require.True(t, finished.Load())
}
