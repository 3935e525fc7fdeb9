// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/stratabook/internal/app/store/forgotpassword"
	"github.com/dalemusser/stratabook/internal/app/system/tasks"
	"github.com/dalemusser/stratabook/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Startup runs once after DB connections and schema setup are complete, but
// before the HTTP handler is built and requests are served. It applies the
// configured time budgets and starts the background housekeeping jobs.
//
// Returning a non-nil error aborts startup.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.Configure(timeouts.Config{
		Ping:   appCfg.TimeoutPing,
		Notify: appCfg.TimeoutNotify,
	})

	if err := startTaskRunner(deps.MongoDatabase, appCfg, logger); err != nil {
		logger.Error("failed to start background task runner", zap.Error(err))
		return err
	}

	return nil
}

// taskRunner is the global task runner instance, used for graceful shutdown.
var taskRunner *tasks.Runner

func startTaskRunner(db *mongo.Database, appCfg AppConfig, logger *zap.Logger) error {
	runs, err := tasks.NewRunCounter(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	taskRunner = tasks.New(logger, tasks.WithRunCounter(runs))

	tokens := forgotpassword.New(db, appCfg.ForgotPasswordExpiry)
	taskRunner.Register(tasks.ForgotPasswordCleanupJob(tokens, appCfg.ForgotPasswordCleanupInterval, logger))

	// Jobs outlive the Startup context; Shutdown stops them.
	taskRunner.Start(context.Background())
	return nil
}
