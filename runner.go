package sel4

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/sel4go/sel4/provision"
)

// Runner assembles the full lifecycle from a RunnerConfig: driver
// provisioning, session creation, per-test acquire/release, recovery and
// outcome reporting.
type Runner struct {
	Config   *RunnerConfig
	Resolver *provision.Resolver
	Registry *Registry
	Recovery *Controller
	Harness  *Harness

	logger logrus.FieldLogger
}

// NewRunner resolves the configured driver once and wires every component
// around it. The returned Runner owns the provisioner cache lifecycle; call
// Close when the run ends.
func NewRunner(ctx context.Context, cfg *RunnerConfig) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ConfigureLogging(cfg.Logging)

	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	resolver, err := provision.NewResolver(provision.Config{CacheDir: cfg.CacheDir})
	if err != nil {
		return nil, err
	}

	spec, err := resolver.Resolve(ctx, cfg.Browser, cfg.BrowserVersion, cfg.Platform)
	if err != nil {
		resolver.Close()
		return nil, err
	}

	factory := NewFactory()
	factory.ReadyTimeout = cfg.ReadyTimeout()

	registry := NewRegistry(factory)
	recovery := NewController(registry, cfg.RetryMax)
	harness := NewHarness(registry, recovery, spec, opts)

	if cfg.Zephyr.Endpoint != "" {
		info := NewRunInfo(cfg.Browser)
		harness.AddReporter(NewZephyrReporter(cfg.Zephyr.Endpoint, cfg.Zephyr.APIToken, cfg.Zephyr.Cycle, info))
	}

	return &Runner{
		Config:   cfg,
		Resolver: resolver,
		Registry: registry,
		Recovery: recovery,
		Harness:  harness,
		logger:   logrus.WithField("component", "runner"),
	}, nil
}

// Run executes items through the harness. On ctx cancellation remaining
// items are skipped and every live session is torn down.
func (r *Runner) Run(ctx context.Context, items []Item) *Summary {
	summary := r.Harness.RunAll(ctx, items)
	if ctx.Err() != nil {
		r.logger.Warn("run aborted, closing live sessions")
		r.Registry.CloseAll()
	}
	r.logger.WithFields(logrus.Fields{
		"total":   summary.Total(),
		"passed":  summary.Passed,
		"failed":  summary.Failed,
		"errors":  summary.Errors,
		"retried": summary.Retried,
	}).Info("run finished")
	return summary
}

// Close releases run-scoped resources: any session still bound and the
// provisioner's in-memory cache.
func (r *Runner) Close() {
	r.Registry.CloseAll()
	r.Resolver.Close()
}
