// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"
	"errors"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown is called once the HTTP server has drained. Background jobs stop
// first so none of them touches MongoDB after the client is gone.
// Notifications already in flight finish on their own timeout.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	var errs []error

	if taskRunner != nil {
		if err := taskRunner.Stop(ctx); err != nil {
			logger.Warn("task runner stop", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if deps.MongoClient != nil {
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("mongo disconnect", zap.Error(err))
			errs = append(errs, err)
		} else {
			logger.Info("mongo disconnected")
		}
	}

	return errors.Join(errs...)
}
