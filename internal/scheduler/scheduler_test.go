package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sizeview/sizeview/internal/testutil"
)

func TestScheduler_RunsIntervalTask(t *testing.T) {
	s, err := New(nil, testutil.NewTestLogger(t))
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:       "sweep",
		Name:     "Sweep",
		Interval: 10 * time.Millisecond,
		Quiet:    true,
		Func: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	tasks := s.ListTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "sweep", tasks[0].ID)
	assert.GreaterOrEqual(t, tasks[0].Runs, 3)
	assert.NotNil(t, tasks[0].LastRun)
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s, err := New(nil, testutil.NopLogger())
	require.NoError(t, err)
	defer s.Stop()

	noop := func(context.Context) error { return nil }

	assert.Error(t, s.RegisterTask(TaskConfig{ID: "zero", Func: noop}))
	require.NoError(t, s.RegisterTask(TaskConfig{ID: "a", Interval: time.Hour, Func: noop}))
	assert.Error(t, s.RegisterTask(TaskConfig{ID: "a", Interval: time.Hour, Func: noop}))
	assert.Len(t, s.ListTasks(), 1)
}

func TestScheduler_FailingTaskKeepsRunning(t *testing.T) {
	s, err := New(nil, testutil.NewTestLogger(t))
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:       "b",
		Interval: 10 * time.Millisecond,
		Func: func(context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	}))
	require.NoError(t, s.RegisterTask(TaskConfig{ID: "a", Interval: time.Hour, Func: func(context.Context) error { return nil }}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	tasks := s.ListTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, "b", tasks[1].ID)
	assert.GreaterOrEqual(t, tasks[1].Runs, 2)
	assert.False(t, tasks[1].Running)
}
