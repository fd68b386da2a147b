package daemon

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_ScheduleEvery(t *testing.T) {
	t.Run("returns job id for valid interval", func(t *testing.T) {
		s, err := NewScheduler()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop() })

		id, err := s.ScheduleEvery("test", 10*time.Second, false, func() {})
		require.NoError(t, err)
		require.NotEmpty(t, id)
	})

	t.Run("rejects non-positive interval", func(t *testing.T) {
		s, err := NewScheduler()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop() })

		_, err = s.ScheduleEvery("test", 0, false, func() {})
		require.Error(t, err)
	})

	t.Run("immediate job runs on start", func(t *testing.T) {
		s, err := NewScheduler()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop() })

		var runs atomic.Int32
		_, err = s.ScheduleEvery("test", time.Hour, true, func() { runs.Add(1) })
		require.NoError(t, err)
		s.Start()
		require.Eventually(t, func() bool { return runs.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	})
}

func TestScheduler_Reschedule(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	s.Start()

	id, err := s.ScheduleEvery("test", time.Minute, false, func() {})
	require.NoError(t, err)
	require.NoError(t, s.Reschedule(id, "test", 2*time.Hour, func() {}))

	next, err := s.NextRun(id)
	require.NoError(t, err)
	require.Greater(t, time.Until(next), time.Hour)

	require.Error(t, s.Reschedule("not-a-uuid", "test", time.Minute, func() {}))
	require.Error(t, s.Reschedule(id, "test", -time.Second, func() {}))

	_, err = s.NextRun("00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
}
