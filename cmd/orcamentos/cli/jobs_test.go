package cli

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/orcamentos/orcamentos/jobs"
)

func newTestCLI(t *testing.T) *JobsCLI {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewJobsCLI(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC) }
	return c
}

func TestNewJobsCLIRequiresAddress(t *testing.T) {
	_, err := NewJobsCLI(" ")
	require.Error(t, err)
}

func TestBuildTask(t *testing.T) {
	c := newTestCLI(t)

	task, err := c.BuildTask(jobs.TaskPurgeExpiredGrants)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskPurgeExpiredGrants, task.Type())

	task, err = c.BuildTask(jobs.TaskTouchLastLogin + ":42")
	require.NoError(t, err)
	require.Equal(t, jobs.TaskTouchLastLogin, task.Type())
	var payload jobs.TouchLastLoginPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(42), payload.UserID)

	_, err = c.BuildTask(jobs.TaskTouchLastLogin + ":abc")
	require.Error(t, err)
	_, err = c.BuildTask("reports:nightly")
	require.Error(t, err)
}

func TestTriggerUnsupported(t *testing.T) {
	c := newTestCLI(t)
	_, err := c.Trigger(context.Background(), "unknown")
	require.Error(t, err)
}
