package auth

import (
	"context"
	"log/slog"
	"time"
)

// LastLoginEnqueuer hands a last-login stamp to the background worker.
type LastLoginEnqueuer interface {
	EnqueueTouchLastLogin(ctx context.Context, userID int64, at time.Time) error
}

// LastLoginWriter persists a last-login stamp.
type LastLoginWriter interface {
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) error
}

const recordTimeout = 2 * time.Second

// QueueRecorder enqueues last-login updates from a goroutine. Touch never blocks and
// failures are only logged.
type QueueRecorder struct {
	queue  LastLoginEnqueuer
	logger *slog.Logger
}

// NewQueueRecorder constructs a QueueRecorder.
func NewQueueRecorder(queue LastLoginEnqueuer, logger *slog.Logger) *QueueRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueRecorder{queue: queue, logger: logger}
}

// Touch schedules the update and returns immediately.
func (r *QueueRecorder) Touch(userID int64, at time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.queue.EnqueueTouchLastLogin(ctx, userID, at); err != nil {
			r.logger.Warn("enqueue last login", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}()
}

// DirectRecorder writes last-login updates straight to the store from a goroutine.
// Used when no worker is deployed.
type DirectRecorder struct {
	writer LastLoginWriter
	logger *slog.Logger
}

// NewDirectRecorder constructs a DirectRecorder.
func NewDirectRecorder(writer LastLoginWriter, logger *slog.Logger) *DirectRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectRecorder{writer: writer, logger: logger}
}

// Touch schedules the update and returns immediately.
func (r *DirectRecorder) Touch(userID int64, at time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.writer.TouchLastLogin(ctx, userID, at); err != nil {
			r.logger.Warn("write last login", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}()
}
