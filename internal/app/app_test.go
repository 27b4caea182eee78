package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/liveinbox/internal/app/tasks"
	"github.com/edgard/liveinbox/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeServer struct {
	err     error
	started chan struct{}
}

func (f *fakeServer) Run(ctx context.Context, _ time.Duration) error {
	close(f.started)
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return nil
}

func noopTask(context.Context) error { return nil }

func TestSchedulerRegistersOnlyEnabledKnownTasks(t *testing.T) {
	cfg := &config.SchedulerConfig{Tasks: map[string]config.TaskConfig{
		config.TaskSQLMaintenance: {Enabled: true, Schedule: "0 0 4 * * *"},
		config.TaskBalanceRefresh: {Enabled: true, Schedule: "0 */30 * * * *"},
		"disabled":                {Enabled: false, Schedule: "* * * * * *"},
		"no_schedule":             {Enabled: true},
		"bad_schedule":            {Enabled: true, Schedule: "not a cron"},
	}}
	registry := map[string]tasks.ScheduledTaskFunc{
		config.TaskSQLMaintenance: noopTask,
		"disabled":                noopTask,
		"no_schedule":             noopTask,
		"bad_schedule":            noopTask,
	}

	s, err := NewScheduler(discardLogger(), cfg, registry)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	assert.Equal(t, []string{config.TaskSQLMaintenance}, s.Jobs())
	assert.Error(t, s.Start())
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s, err := NewScheduler(discardLogger(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())
	assert.Empty(t, s.Jobs())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestSchedulerWrapRunsTask(t *testing.T) {
	s, err := NewScheduler(discardLogger(), nil, nil)
	require.NoError(t, err)

	called := 0
	s.wrap(func(context.Context) error {
		called++
		return errors.New("ignored")
	})(context.Background(), "task")

	assert.Equal(t, 1, called)
}

func TestAppRunStopsOnCancel(t *testing.T) {
	s, err := NewScheduler(discardLogger(), nil, nil)
	require.NoError(t, err)
	srv := &fakeServer{started: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(discardLogger(), srv, s, time.Second).Run(ctx) }()

	<-srv.started
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestAppRunReportsServerFailure(t *testing.T) {
	s, err := NewScheduler(discardLogger(), nil, nil)
	require.NoError(t, err)
	srv := &fakeServer{started: make(chan struct{}), err: errors.New("listen failed")}

	err = New(discardLogger(), srv, s, time.Second).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen failed")
}

func TestGocronLoggerTagsSource(t *testing.T) {
	var buf strings.Builder
	l := newGocronLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	l.Debug("debug msg")
	l.Info("info msg", "job", "x")
	l.Warn("warn msg")
	l.Error("error msg")

	out := buf.String()
	assert.Contains(t, out, "source=gocron")
	assert.Contains(t, out, "job=x")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}
