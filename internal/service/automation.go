package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/agent"
	"github.com/alaotach/foxxy-ai/internal/browser"
	"github.com/alaotach/foxxy-ai/internal/config"
	"github.com/alaotach/foxxy-ai/internal/executor"
	"github.com/alaotach/foxxy-ai/internal/policy"
	"github.com/alaotach/foxxy-ai/internal/resolve"
	"github.com/alaotach/foxxy-ai/internal/snapshot"
	"github.com/alaotach/foxxy-ai/internal/stability"
)

// Automation assembles the browser session, snapshotting, stability
// detection, resolution, execution policy and the agent loop into one
// steerable unit. It is the single surface the gateway and the CLI talk to.
type Automation struct {
	drv      browser.Driver
	observer *boundCollector
	detector *stability.Detector
	probe    stability.Probe
	policy   *policy.Policy
	loop     *agent.Loop
	logger   *zap.Logger
}

// boundCollector pairs the stateless snapshot collector with the driver it
// reads from.
type boundCollector struct {
	collector *snapshot.Collector
	drv       browser.Driver
}

func (b *boundCollector) Collect(ctx context.Context) (schemas.PageSnapshot, error) {
	return b.collector.Collect(ctx, b.drv)
}

// NewAutomation launches a browser session and wires the full automation
// stack around it. The caller owns Close.
func NewAutomation(ctx context.Context, cfg *config.Config, prompter agent.Prompter, logger *zap.Logger) (*Automation, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	session, err := browser.NewSession(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("launch browser session: %w", err)
	}
	return assemble(session, cfg, prompter, logger), nil
}

func assemble(drv browser.Driver, cfg *config.Config, prompter agent.Prompter, logger *zap.Logger) *Automation {
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := &boundCollector{
		collector: snapshot.NewCollector(cfg.Snapshot, logger),
		drv:       drv,
	}
	probe := stability.NewPageProbe(drv)
	detector := stability.NewDetector(cfg.Stability, probe, logger)
	resolver := resolve.NewResolver(cfg.Services, logger)
	exec := executor.New(drv, resolver, cfg.Browser, logger)
	pol := policy.New(exec, drv, observer, cfg.Policy, logger)
	decider := agent.NewDecisionClient(cfg.Services, logger)
	loop := agent.NewLoop(drv, observer, detector, pol, decider, prompter, cfg.Agent, logger)

	return &Automation{
		drv:      drv,
		observer: observer,
		detector: detector,
		probe:    probe,
		policy:   pol,
		loop:     loop,
		logger:   logger.Named("automation"),
	}
}

// Prepare re-installs the in-page helpers. The mutation probe's install is
// idempotent, so this is safe to call on a page that already has them; it
// exists for the path where a freshly navigated page has not executed any
// helper script yet.
func (a *Automation) Prepare(ctx context.Context) error {
	if _, err := a.probe.MutationCount(ctx); err != nil {
		return fmt.Errorf("install page helpers: %w", err)
	}
	return nil
}

// ExecuteStep runs one action outside of a goal loop, with retry/fallback
// policy applied. A failed observation gets one re-injection attempt before
// the step is abandoned, covering pages where the helper scripts were not
// loaded yet.
func (a *Automation) ExecuteStep(ctx context.Context, action schemas.Action) (schemas.StepResult, error) {
	snap, err := a.observer.Collect(ctx)
	if err != nil {
		a.logger.Warn("Snapshot failed, re-injecting helpers and retrying once.", zap.Error(err))
		if prepErr := a.Prepare(ctx); prepErr != nil {
			return schemas.StepResult{}, fmt.Errorf("page not ready: %w", prepErr)
		}
		if snap, err = a.observer.Collect(ctx); err != nil {
			return schemas.StepResult{}, fmt.Errorf("observe page: %w", err)
		}
	}
	return a.policy.Run(ctx, action, snap), nil
}

// SetPrompter installs the user-input collector on the agent loop. Call
// before RunGoal.
func (a *Automation) SetPrompter(p agent.Prompter) {
	a.loop.SetPrompter(p)
}

// SetNotifier installs the step-progress sink on the agent loop. Call
// before RunGoal.
func (a *Automation) SetNotifier(n agent.StepNotifier) {
	a.loop.SetNotifier(n)
}

// Navigate opens a URL directly, outside of any goal.
func (a *Automation) Navigate(ctx context.Context, url string) error {
	return a.drv.Navigate(ctx, url)
}

// PageInfo reports the current page's URL and title.
func (a *Automation) PageInfo(ctx context.Context) (browser.PageInfo, error) {
	return a.drv.PageInfo(ctx)
}

// RunGoal drives the agent loop to a terminal outcome. Blocking; callers
// that need concurrency run it on their own goroutine.
func (a *Automation) RunGoal(ctx context.Context, goal string) schemas.GoalOutcome {
	return a.loop.RunGoal(ctx, goal)
}

// Cancel requests cooperative termination of an in-flight goal.
func (a *Automation) Cancel() {
	a.loop.Cancel()
}

// State reports the loop's lifecycle position.
func (a *Automation) State() agent.State {
	return a.loop.State()
}

// Close tears down the browser session.
func (a *Automation) Close() error {
	return a.drv.Close()
}
