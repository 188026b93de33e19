package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDailySpec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "00:00", want: "0 0 0 * * *"},
		{in: "07:05", want: "0 5 7 * * *"},
		{in: " 23:59 ", want: "0 59 23 * * *"},
		{in: "24:00", wantErr: true},
		{in: "7", wantErr: true},
		{in: "ab:cd", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := buildDailySpec(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduleIntervalRejectsNonPositive(t *testing.T) {
	t.Parallel()
	s := NewSchedulerService(time.UTC, zerolog.Nop())
	_, err := s.ScheduleInterval(0, func() {})
	assert.Error(t, err)
}

func TestScheduleDailyFiresInConfiguredZone(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	s := NewSchedulerService(loc, zerolog.Nop())

	id, err := s.ScheduleDaily("00:00", func() {})
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return !s.Next(id).IsZero() }, time.Second, 10*time.Millisecond)
	next := s.Next(id).In(loc)
	assert.Equal(t, 0, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestRescheduleReplacesEntry(t *testing.T) {
	t.Parallel()
	s := NewSchedulerService(time.UTC, zerolog.Nop())
	old, err := s.ScheduleInterval(5*time.Hour, func() {})
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	id, err := s.Reschedule(old, time.Hour, func() {})
	require.NoError(t, err)
	assert.NotEqual(t, old, id)
	require.Eventually(t, func() bool { return !s.Next(id).IsZero() }, time.Second, 10*time.Millisecond)
	assert.True(t, s.Next(old).IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.Next(id), 5*time.Second)
}

func TestSlowJobIsNotRunConcurrently(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for several cron ticks")
	}
	t.Parallel()
	s := NewSchedulerService(time.UTC, zerolog.Nop())

	var running, maxRunning, runs atomic.Int32
	release := make(chan struct{})
	_, err := s.ScheduleInterval(time.Second, func() {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		runs.Add(1)
		<-release
		running.Add(-1)
	})
	require.NoError(t, err)
	s.Start()

	time.Sleep(3500 * time.Millisecond)
	close(release)
	s.Stop()

	assert.EqualValues(t, 1, runs.Load(), "ticks during a running job are skipped")
	assert.EqualValues(t, 1, maxRunning.Load())
}
