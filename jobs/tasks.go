package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/orcamentos/orcamentos/internal/jobs"
	"github.com/orcamentos/orcamentos/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTouchLastLogin stamps users.last_login.
	TaskTouchLastLogin = "auth:touch_last_login"
	// TaskPurgeExpiredGrants deletes expired user role grants.
	TaskPurgeExpiredGrants = "rbac:purge_expired_grants"
)

// touchWindow collapses repeated stamps for one user into a single task.
const touchWindow = time.Minute

var taskNamespace = uuid.MustParse("6f1c3a52-4b8e-4d61-9a0e-2f7d8c9b1e34")

// TouchLastLoginPayload identifies the user and the moment of activity.
type TouchLastLoginPayload struct {
	UserID int64     `json:"user_id"`
	At     time.Time `json:"at"`
}

// NewTouchLastLoginTask constructs an Asynq task. The task id is derived from the user
// and the minute of activity, so the queue holds at most one stamp per user per minute.
func NewTouchLastLoginTask(payload TouchLastLoginPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	bucket := payload.At.UTC().Truncate(touchWindow).Unix()
	return asynq.NewTask(TaskTouchLastLogin, data, asynq.TaskID(taskID(payload.UserID, bucket)), asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

func taskID(userID, bucket int64) string {
	return uuid.NewSHA1(taskNamespace, fmt.Appendf(nil, "%d:%d", userID, bucket)).String()
}

// LastLoginWriter persists a last-login stamp.
type LastLoginWriter interface {
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) error
}

// TouchLastLoginJob applies queued last-login stamps.
type TouchLastLoginJob struct {
	Writer  LastLoginWriter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewTouchLastLoginJob wires dependencies for the last-login handler.
func NewTouchLastLoginJob(writer LastLoginWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *TouchLastLoginJob {
	return &TouchLastLoginJob{Writer: writer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskTouchLastLogin tasks. Stamps for deleted users are dropped.
func (j *TouchLastLoginJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Writer == nil {
		return errors.New("touch last login: handler not configured")
	}
	var payload TouchLastLoginPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UserID <= 0 {
		return fmt.Errorf("touch last login: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskTouchLastLogin)
	defer func() { err = tracker.End(err) }()

	err = j.Writer.TouchLastLogin(ctx, payload.UserID, payload.At)
	if errors.Is(err, shared.ErrNotFound) {
		j.logger().Info("last login for missing user", slog.Int64("user_id", payload.UserID))
		return nil
	}
	return err
}

// TaskHandler exposes the job for worker registration.
func (j *TouchLastLoginJob) TaskHandler() TaskHandler {
	return TaskHandler{Type: TaskTouchLastLogin, Handler: j.Handle}
}

func (j *TouchLastLoginJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// NewPurgeExpiredGrantsTask constructs the periodic purge task.
func NewPurgeExpiredGrantsTask() *asynq.Task {
	return asynq.NewTask(TaskPurgeExpiredGrants, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// GrantPurger removes expired role grants.
type GrantPurger interface {
	PurgeExpiredGrants(ctx context.Context) (int64, error)
}

// PurgeExpiredGrantsJob reclaims expired user role grants.
type PurgeExpiredGrantsJob struct {
	Purger  GrantPurger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskPurgeExpiredGrants tasks.
func (j *PurgeExpiredGrantsJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Purger == nil {
		return errors.New("purge expired grants: handler not configured")
	}
	tracker := j.Metrics.Track(TaskPurgeExpiredGrants)
	defer func() { err = tracker.End(err) }()

	n, err := j.Purger.PurgeExpiredGrants(ctx)
	if err != nil {
		return err
	}
	if j.Logger != nil {
		j.Logger.Debug("expired grants purged", slog.Int64("count", n))
	}
	return nil
}

// TaskHandler exposes the job for worker registration.
func (j *PurgeExpiredGrantsJob) TaskHandler() TaskHandler {
	return TaskHandler{Type: TaskPurgeExpiredGrants, Handler: j.Handle}
}
