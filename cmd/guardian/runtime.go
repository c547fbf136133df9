package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"guardian/internal/config"
	"guardian/internal/guardian"
	"guardian/internal/httpclient"
	"guardian/internal/journal"
	"guardian/internal/logging"
	"guardian/internal/notification"
	"guardian/internal/observability"
	"guardian/internal/retry"
)

// runtime wires a Guardian to the sinks, metrics and tracing selected by the
// configuration.
type runtime struct {
	cfg        config.Config
	logger     logging.Logger
	registry   *prometheus.Registry
	tracer     *observability.TracerProvider
	guardian   *guardian.Guardian
	dispatcher *notification.Dispatcher
	journal    *journal.Journal

	webhookBreaker *httpclient.CircuitBreaker
}

func newRuntime(cfg config.Config, out io.Writer, clock retry.Clock) (*runtime, error) {
	logging.SetBase(observability.NewLogger(cfg.Logging))
	rt := &runtime{
		cfg:      cfg,
		logger:   logging.NewComponentLogger("cli"),
		registry: prometheus.NewRegistry(),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tracer, err := observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	rt.tracer = tracer

	var sinks []guardian.EventSink
	if cfg.Notifications.Console.Enabled {
		var opts []notification.ConsoleOption
		if !cfg.Notifications.Console.Color {
			opts = append(opts, notification.WithoutColor())
		}
		sinks = append(sinks, notification.NewConsoleSink(out, opts...))
	}
	if cfg.Notifications.Log.Enabled {
		sinks = append(sinks, notification.NewLogSink(nil))
	}

	var slow []guardian.EventSink
	if hook := cfg.Notifications.Webhook; hook.URL != "" {
		client, breaker := httpclient.NewWithCircuitBreakerConfig(hook.Timeout, logging.NewComponentLogger("webhook"), "webhook",
			httpclient.BreakerConfig{FailureThreshold: hook.FailureThreshold, Cooldown: hook.Cooldown})
		rt.webhookBreaker = breaker
		slow = append(slow, notification.NewWebhookSink(hook.URL,
			notification.WithHTTPClient(client),
			notification.WithHeaders(hook.Headers),
		))
	}
	if cfg.Guardian.PersistenceEnabled {
		j, err := journal.Open(cfg.Persistence.Path, logging.NewComponentLogger("journal"))
		if err != nil {
			_ = rt.close()
			return nil, err
		}
		rt.journal = j
		slow = append(slow, j)
		rt.logger.Info("Persisting events to %s", j.Path())
	}
	if len(slow) > 0 {
		rt.dispatcher = notification.NewDispatcher(notification.Fanout(slow...), cfg.Notifications.Buffer, logging.NewComponentLogger("dispatcher"))
		sinks = append(sinks, rt.dispatcher)
	}

	opts := []guardian.Option{
		guardian.WithSinks(sinks...),
		guardian.WithMetrics(guardian.MustNewMetrics(rt.registry)),
		guardian.WithTracer(tracer.Tracer()),
		guardian.WithLogger(logging.NewComponentLogger("guardian")),
	}
	if clock != nil {
		opts = append(opts, guardian.WithClock(clock))
	}
	g, err := guardian.New(cfg.Guardian, opts...)
	if err != nil {
		_ = rt.close()
		return nil, err
	}
	rt.guardian = g
	return rt, nil
}

// serve runs work while the metrics endpoint is up. With hold set, the
// endpoint stays up after work finishes until ctx is cancelled.
func (rt *runtime) serve(ctx context.Context, hold bool, work func(context.Context) error) error {
	if !rt.cfg.Metrics.Enabled {
		return work(ctx)
	}
	server, err := observability.NewMetricsServer(rt.cfg.Metrics.Addr, rt.registry)
	if err != nil {
		return err
	}
	rt.logger.Info("Serving metrics on http://%s/metrics", server.Addr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(gctx)
	})
	group.Go(func() error {
		if err := work(gctx); err != nil {
			return err
		}
		if hold {
			<-gctx.Done()
			return nil
		}
		cancel()
		return nil
	})
	return group.Wait()
}

func (rt *runtime) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if rt.guardian != nil {
		rt.guardian.Close()
	}
	if rt.dispatcher != nil {
		if err := rt.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush notifications: %w", err))
		}
		if _, dropped, failed := rt.dispatcher.Stats(); dropped > 0 || failed > 0 {
			rt.logger.Warn("Notifications: %d dropped, %d failed", dropped, failed)
		}
	}
	if rt.webhookBreaker != nil && rt.webhookBreaker.State() != httpclient.StateClosed {
		rt.logger.Warn("Webhook circuit %s at shutdown", rt.webhookBreaker.State())
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	if rt.tracer != nil {
		if err := rt.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
