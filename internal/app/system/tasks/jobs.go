// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiredTokenPurger deletes expired forgot-password tokens.
type ExpiredTokenPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ForgotPasswordCleanupJob removes expired forgot-password tokens every
// interval (hourly when interval is not positive).
func ForgotPasswordCleanupJob(p ExpiredTokenPurger, interval time.Duration, logger *zap.Logger) Job {
	if interval <= 0 {
		interval = time.Hour
	}
	return Job{
		Name:     "forgot-password-cleanup",
		Interval: interval,
		Run: func(ctx context.Context) error {
			n, err := p.DeleteExpired(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("cleaned up expired forgot-password tokens", zap.Int64("deleted", n))
			}
			return nil
		},
	}
}
