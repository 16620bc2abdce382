package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/config"
)

// State names the loop's position in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateObserving State = "observing"
	StateDeciding  State = "deciding"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Decider is the decision-service round trip. Implemented by DecisionClient.
type Decider interface {
	NextStep(ctx context.Context, req schemas.NextStepRequest) (schemas.NextStepResponse, error)
}

// StepRunner executes one action with retry/fallback applied. Implemented
// by policy.Policy.
type StepRunner interface {
	Run(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) schemas.StepResult
	ResetLedger()
}

// Observer produces the ranked DOM snapshot for the current page.
type Observer interface {
	Collect(ctx context.Context) (schemas.PageSnapshot, error)
}

// Stabilizer blocks until the page has settled or its hard ceiling passed.
type Stabilizer interface {
	WaitForStable(ctx context.Context) error
}

// Pager is the slice of the browser driver the loop itself touches.
type Pager interface {
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	Navigate(ctx context.Context, url string) error
}

// Prompter collects a value from the user when the decision service issues
// a prompt_user action. provided=false means the user declined, which the
// loop treats as cancellation.
type Prompter interface {
	Prompt(ctx context.Context, prompt string) (value string, provided bool, err error)
}

// StepNotifier receives progress callbacks while a goal runs. Callbacks fire
// on the loop goroutine and must not block.
type StepNotifier interface {
	StepStarted(action schemas.Action)
	StepFinished(result schemas.StepResult)
}

// Loop drives one goal to a terminal state: observe, stabilize, ask the
// decision service, execute, repeat. A hard step ceiling bounds the loop
// because the external service is not trusted to ever declare completion.
// All mutation of history and the ledger happens on the loop goroutine;
// only the cancellation flag is shared.
type Loop struct {
	page       Pager
	observer   Observer
	stabilizer Stabilizer
	runner     StepRunner
	decider    Decider
	prompter   Prompter
	cfg        config.AgentConfig
	limiter    *rate.Limiter
	notifier   StepNotifier
	logger     *zap.Logger

	cancelled atomic.Bool

	mu      sync.Mutex
	state   State
	history []string
}

func NewLoop(page Pager, observer Observer, stabilizer Stabilizer, runner StepRunner, decider Decider, prompter Prompter, cfg config.AgentConfig, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.InterActionDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.InterActionDelay), 1)
	}
	return &Loop{
		page:       page,
		observer:   observer,
		stabilizer: stabilizer,
		runner:     runner,
		decider:    decider,
		prompter:   prompter,
		cfg:        cfg,
		limiter:    limiter,
		logger:     logger.Named("agent"),
		state:      StateIdle,
	}
}

// SetPrompter installs the user-input collector. Call before RunGoal; the
// loop reads the field without locking.
func (l *Loop) SetPrompter(p Prompter) {
	l.prompter = p
}

// SetNotifier installs the progress callback sink. Call before RunGoal.
func (l *Loop) SetNotifier(n StepNotifier) {
	l.notifier = n
}

// Cancel requests cooperative termination. The flag is polled at every
// suspension point; an action already in flight still finishes.
func (l *Loop) Cancel() {
	l.cancelled.Store(true)
}

// State reports the loop's current lifecycle position.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// History returns a copy of the accumulated step log.
func (l *Loop) History() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Loop) appendHistory(entry string) {
	l.mu.Lock()
	l.history = append(l.history, entry)
	l.mu.Unlock()
}

func (l *Loop) interrupted(ctx context.Context) bool {
	return ctx.Err() != nil || l.cancelled.Load()
}

// RunGoal executes the goal until completion, failure, cancellation or the
// step ceiling. The terminal outcome is returned exactly once; it is never
// also delivered through a side channel.
func (l *Loop) RunGoal(ctx context.Context, goal string) schemas.GoalOutcome {
	started := time.Now()
	l.cancelled.Store(false)
	l.mu.Lock()
	l.history = nil
	l.mu.Unlock()
	l.runner.ResetLedger()

	l.logger.Info("Goal started.", zap.String("goal", goal), zap.Int("max_steps", l.cfg.MaxSteps))

	steps := 0
	for steps < l.cfg.MaxSteps {
		if l.interrupted(ctx) {
			return l.finish(StateCancelled, "goal cancelled", steps, started)
		}

		l.setState(StateObserving)
		if err := l.stabilizer.WaitForStable(ctx); err != nil {
			if l.interrupted(ctx) {
				return l.finish(StateCancelled, "goal cancelled while waiting for page stability", steps, started)
			}
			return l.finish(StateFailed, fmt.Sprintf("page stability wait failed: %v", err), steps, started)
		}
		snap, err := l.observer.Collect(ctx)
		if err != nil {
			return l.finish(StateFailed, fmt.Sprintf("page observation failed: %v", err), steps, started)
		}
		screenshot, err := l.page.CaptureScreenshot(ctx)
		if err != nil {
			return l.finish(StateFailed, fmt.Sprintf("screenshot capture failed: %v", err), steps, started)
		}

		if l.interrupted(ctx) {
			return l.finish(StateCancelled, "goal cancelled", steps, started)
		}

		l.setState(StateDeciding)
		decision, err := l.decider.NextStep(ctx, schemas.NextStepRequest{
			Goal:       goal,
			Screenshot: base64.StdEncoding.EncodeToString(screenshot),
			Viewport:   snap.Viewport,
			History:    l.History(),
		})
		if err != nil {
			return l.finish(StateFailed, fmt.Sprintf("decision service error: %v", err), steps, started)
		}
		if decision.Completed {
			msg := decision.FinalMessage
			if msg == "" {
				msg = "goal completed"
			}
			return l.finish(StateCompleted, msg, steps, started)
		}
		if decision.NextAction == nil {
			return l.finish(StateFailed, "decision service returned neither completion nor a next action", steps, started)
		}

		// The decision round trip is the slowest suspension point; a cancel
		// that landed during it must not let the pending action run.
		if l.interrupted(ctx) {
			return l.finish(StateCancelled, "goal cancelled while awaiting decision", steps, started)
		}

		action := *decision.NextAction
		if action.Type == schemas.ActionTypePromptUser {
			value, provided, promptErr := l.collectUserInput(ctx, action.Prompt)
			if promptErr != nil || !provided {
				return l.finish(StateCancelled, "user declined to provide requested input", steps, started)
			}
			action.UserProvidedValue = value
		}

		l.setState(StateExecuting)
		if l.notifier != nil {
			l.notifier.StepStarted(action)
		}
		result := l.runner.Run(ctx, action, snap)
		steps++
		l.appendHistory(result.Summary())
		if l.notifier != nil {
			l.notifier.StepFinished(result)
		}
		l.logger.Info("Step recorded.",
			zap.Int("step", steps),
			zap.String("type", string(action.Type)),
			zap.Bool("success", result.Success),
			zap.Bool("skipped", result.Skipped),
			zap.String("error_code", string(result.ErrorCode)))

		switch result.ErrorCode {
		case schemas.ErrCodeUserCancelled:
			return l.finish(StateCancelled, "goal cancelled during execution", steps, started)
		case schemas.ErrCodePermissionDenied:
			l.escapeRestrictedPage(ctx)
		}

		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return l.finish(StateCancelled, "goal cancelled during inter-action delay", steps, started)
			}
		}
	}

	return l.finish(StateFailed,
		fmt.Sprintf("step budget of %d exhausted before the goal completed", l.cfg.MaxSteps),
		steps, started)
}

// collectUserInput suspends the loop for synchronous user input, bounded by
// the configured prompt timeout.
func (l *Loop) collectUserInput(ctx context.Context, prompt string) (string, bool, error) {
	if l.prompter == nil {
		return "", false, fmt.Errorf("no prompter configured")
	}
	if l.cfg.PromptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.PromptTimeout)
		defer cancel()
	}
	return l.prompter.Prompt(ctx, prompt)
}

// escapeRestrictedPage navigates to the configured neutral page after a
// permission failure. Retrying the same action in place can never succeed
// on a restricted page, so the loop changes location instead.
func (l *Loop) escapeRestrictedPage(ctx context.Context) {
	target := l.cfg.EscapeURL
	if target == "" {
		target = "about:blank"
	}
	l.logger.Warn("Restricted page blocked interaction, navigating away.", zap.String("target", target))
	if err := l.page.Navigate(ctx, target); err != nil {
		l.logger.Error("Escape navigation failed.", zap.Error(err))
		return
	}
	l.appendHistory(fmt.Sprintf("Recovered from a restricted page by navigating to %s", target))
}

func (l *Loop) finish(state State, message string, steps int, started time.Time) schemas.GoalOutcome {
	l.setState(state)
	outcome := schemas.GoalOutcome{
		State:        string(state),
		FinalMessage: message,
		Steps:        steps,
		History:      l.History(),
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}
	l.logger.Info("Goal finished.",
		zap.String("state", string(state)),
		zap.Int("steps", steps),
		zap.String("message", message))
	return outcome
}
