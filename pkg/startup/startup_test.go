package startup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/startup"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func recorder(log *[]string, name string) *startup.Dependency {
	return &startup.Dependency{
		Name:    name,
		StartFn: func(context.Context) error { *log = append(*log, "start "+name); return nil },
		StopFn:  func(context.Context) error { *log = append(*log, "stop "+name); return nil },
	}
}

func TestStartup_OrdersByDependency(t *testing.T) {
	var log []string
	s := startup.NewStartup(testLogger(), 1)

	scheduler := recorder(&log, "scheduler")
	scheduler.Needs = []string{"database", "redis"}
	s.AddDependency(scheduler)
	s.AddDependency(recorder(&log, "database"))
	s.AddDependency(recorder(&log, "redis"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start database", "start redis", "start scheduler"}, log)
	assert.Equal(t, startup.StartupStatusStarted, s.Status("scheduler"))

	log = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop scheduler", "stop redis", "stop database"}, log)
	assert.Equal(t, startup.StartupStatusStopped, s.Status("database"))
}

func TestStartup_RetriesWithBackoff(t *testing.T) {
	calls := 0
	s := startup.NewStartup(testLogger(), 3)
	s.SetBackoff(time.Millisecond)
	s.AddDependency(&startup.Dependency{
		Name: "database",
		StartFn: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestStartup_GivesUp(t *testing.T) {
	s := startup.NewStartup(testLogger(), 2)
	s.SetBackoff(time.Millisecond)
	s.AddDependency(&startup.Dependency{
		Name:    "database",
		StartFn: func(context.Context) error { return errors.New("connection refused") },
	})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, startup.StartupStatusFailed, s.Status("database"))
}

func TestStartup_UnknownAndCyclicDependencies(t *testing.T) {
	s := startup.NewStartup(testLogger(), 1)
	s.AddDependency(&startup.Dependency{Name: "a", Needs: []string{"missing"}})
	assert.Error(t, s.Start(context.Background()))

	s = startup.NewStartup(testLogger(), 1)
	s.AddDependency(&startup.Dependency{Name: "a", Needs: []string{"b"}})
	s.AddDependency(&startup.Dependency{Name: "b", Needs: []string{"a"}})
	assert.Error(t, s.Start(context.Background()))
}
