package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atrium-loyalty/atrium-loyalty/internal/legacy"
)

// LegacySyncJob runs the legacy user import on a schedule.
type LegacySyncJob struct {
	Importer *legacy.Importer
	Logger   *slog.Logger
}

// NewLegacySyncJob initialises the legacy sync handler.
func NewLegacySyncJob(importer *legacy.Importer, logger *slog.Logger) *LegacySyncJob {
	return &LegacySyncJob{Importer: importer, Logger: logger}
}

// Handle executes one import batch.
func (j *LegacySyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Importer == nil {
		return errors.New("legacy sync: handler not configured")
	}
	var payload LegacySyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	logger := j.logger()
	start := time.Now()
	logger.Info("starting legacy sync", slog.Int("batch_size", payload.BatchSize))

	summary, err := j.Importer.RunBatch(ctx, payload.BatchSize)
	if err != nil {
		logger.Error("legacy sync failed", slog.Any("error", err))
		return err
	}

	logger.Info("completed legacy sync",
		slog.Int64("cursor", summary.Cursor),
		slog.Int("processed", summary.Processed),
		slog.Int("saved", summary.Saved),
		slog.Int("invalid", summary.Invalid),
		slog.Int("duplicate", summary.Duplicate),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *LegacySyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLegacySync))
	}
	return slog.Default().With(slog.String("job", TaskLegacySync))
}
