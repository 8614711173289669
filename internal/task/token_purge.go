package task

import (
	"context"

	"go.uber.org/zap"
)

const tokenPurgeJobName = "purge_submission_tokens"

// TokenPurger removes submission tokens that can no longer deduplicate a create.
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}

// TokenPurgeJob keeps the submission token table bounded.
type TokenPurgeJob struct {
	purger TokenPurger
	logger *zap.Logger
}

// NewTokenPurgeJob builds a TokenPurgeJob.
func NewTokenPurgeJob(purger TokenPurger, logger *zap.Logger) *TokenPurgeJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenPurgeJob{purger: purger, logger: logger}
}

// Name identifies the job in logs.
func (job *TokenPurgeJob) Name() string {
	return tokenPurgeJobName
}

// Run purges expired tokens once.
func (job *TokenPurgeJob) Run(ctx context.Context) error {
	if job.purger == nil {
		return nil
	}
	purged, err := job.purger.PurgeExpiredTokens(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		job.logger.Info("purged_submission_tokens", zap.Int64("count", purged))
	}
	return nil
}
