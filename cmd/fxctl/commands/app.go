package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fxctl/fxctl/pkg/config"
	"github.com/fxctl/fxctl/pkg/core"
	"github.com/fxctl/fxctl/pkg/lifecycle"
	"github.com/fxctl/fxctl/pkg/lock"
	"github.com/fxctl/fxctl/pkg/middleware"
	"github.com/fxctl/fxctl/pkg/stores"
	"github.com/fxctl/fxctl/pkg/telemetry"
	"github.com/fxctl/fxctl/pkg/ui"
)

// app is the process-wide stack a command runs on.
type app struct {
	runtime *config.Runtime
	tel     *telemetry.Telemetry
	exec    *middleware.Executor
	core    *core.FxCore
	history *stores.HistoryStore
	redis   *redis.Client
}

type appContextKey struct{}

func withApp(ctx context.Context, a *app) context.Context {
	return context.WithValue(ctx, appContextKey{}, a)
}

func appFrom(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appContextKey{}).(*app)
	if !ok {
		return nil, errors.New("application is not initialized")
	}
	return a, nil
}

func setup(ctx context.Context, version string, stderr io.Writer) (*app, error) {
	rt, err := config.LoadRuntime()
	if err != nil {
		return nil, err
	}

	cfg := rt.Telemetry(version)
	if verbose {
		cfg.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	log.Logger = tel.Logger.Zerolog()

	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	a := &app{runtime: rt, tel: tel}

	history, err := stores.Open(ctx, stores.Config{Path: rt.HistoryDB}, tel.Logger.Zerolog())
	if err != nil {
		tel.Logger.WithError(err).Warn("Action history is disabled")
	} else {
		a.history = history
		tel.Events.Subscribe(history.Subscriber(), nil)
	}

	var locker lock.Locker = lock.NewFileLocker("")
	if rt.LockBackend == "redis" {
		a.redis = redis.NewClient(&redis.Options{Addr: rt.RedisAddr})
		locker = lock.NewRedisLocker(a.redis, lock.DefaultLeaseTTL)
	}
	guard := lock.NewGuard(locker,
		lock.WithRetry(rt.LockRetries, rt.LockRetryDelay),
		lock.WithReporter(tel.Reporter),
		lock.WithMetrics(tel.Metrics),
		lock.WithLogger(tel.Logger),
	)

	var u ui.UserInteraction
	if interactive && rt.Interactive {
		u = ui.NewTerminal(nil, stderr)
	} else {
		u = ui.NewScripted(nil, stderr)
	}

	a.exec = middleware.NewExecutor(u,
		middleware.WithLogger(tel.Logger),
		middleware.WithTracer(tel.Tracer),
		middleware.WithTelemetry(tel.Reporter, tel.Migrated),
		middleware.WithMetrics(tel.Metrics),
		middleware.WithEvaluator(config.NewStarlarkEvaluator(0)),
	)

	a.core, err = core.New(u,
		core.WithLogger(tel.Logger),
		core.WithGuard(guard),
		core.WithExecutor(a.exec),
		core.WithReporter(tel.Reporter),
		core.WithRunnerOptions(
			lifecycle.WithMetrics(tel.Metrics),
			lifecycle.WithTracer(tel.Tracer),
		),
		core.WithLinks(rt.HelpLink, rt.IssueLink),
	)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

// close waits for pending telemetry, drains the event queue into the
// history store and releases connections.
func (a *app) close(ctx context.Context) error {
	if a.exec != nil {
		a.exec.Wait()
	}
	errs := []error{a.tel.Shutdown(ctx)}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
