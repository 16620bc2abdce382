package policy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/config"
	"github.com/alaotach/foxxy-ai/internal/resolve"
)

// StepExecutor executes one action against the page. Implemented by
// executor.Executor.
type StepExecutor interface {
	Execute(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) schemas.StepResult
}

// Scroller is the slice of the browser driver the recovery path needs.
type Scroller interface {
	ScrollBy(ctx context.Context, dx, dy float64) error
}

// Observer refreshes the page snapshot after a recovery scroll moved the
// viewport.
type Observer interface {
	Collect(ctx context.Context) (schemas.PageSnapshot, error)
}

// Policy wraps a StepExecutor with bounded retry accounting and two
// recovery heuristics: scroll-then-retry after an element was not found,
// and a DOM-only text match when the resolution service itself failed.
type Policy struct {
	exec     StepExecutor
	scroller Scroller
	observer Observer
	cfg      config.PolicyConfig
	ledger   *Ledger
	logger   *zap.Logger
}

func New(exec StepExecutor, scroller Scroller, observer Observer, cfg config.PolicyConfig, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		exec:     exec,
		scroller: scroller,
		observer: observer,
		cfg:      cfg,
		ledger:   NewLedger(),
		logger:   logger.Named("policy"),
	}
}

// ResetLedger discards all retry state. Called when a new goal starts.
func (p *Policy) ResetLedger() {
	p.ledger = NewLedger()
}

// Run executes the action, applying at most one recovery attempt on a
// recoverable failure. When the fingerprint's failure count reaches the
// configured cap the returned result is marked Skipped; the caller should
// record it and move on rather than reissue the action.
func (p *Policy) Run(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) schemas.StepResult {
	fingerprint := action.Fingerprint()

	// An already-abandoned fingerprint gets no further attempts, no matter
	// how often the decision service reissues it.
	if p.ledger.Count(fingerprint) >= p.cfg.MaxRetriesPerAction {
		p.logger.Warn("Refusing reissued action past its retry cap.",
			zap.String("fingerprint", fingerprint))
		return schemas.StepResult{
			StepID:    uuid.NewString()[:8],
			Action:    action,
			Skipped:   true,
			ErrorCode: schemas.ErrCodeExecutionFailure,
			Error:     "abandoned after repeated failures",
			Timestamp: time.Now(),
		}
	}

	result := p.exec.Execute(ctx, action, snap)
	if result.Success {
		p.ledger.Reset(fingerprint)
		return result
	}
	if !result.ErrorCode.Retryable() {
		return result
	}

	count := p.ledger.Increment(fingerprint)
	if count >= p.cfg.MaxRetriesPerAction {
		p.logger.Warn("Action abandoned after repeated failures.",
			zap.String("fingerprint", fingerprint),
			zap.Int("failures", count))
		result.Skipped = true
		return result
	}

	retried, attempted := p.recover(ctx, action, snap, result.ErrorCode)
	if !attempted {
		return result
	}
	if retried.Success {
		p.ledger.Reset(fingerprint)
		return retried
	}

	count = p.ledger.Increment(fingerprint)
	if count >= p.cfg.MaxRetriesPerAction {
		p.logger.Warn("Recovery attempt failed, abandoning action.",
			zap.String("fingerprint", fingerprint),
			zap.Int("failures", count))
		retried.Skipped = true
	}
	return retried
}

// recover picks and runs the single extra attempt a recoverable failure is
// entitled to. The bool reports whether an attempt was actually made.
func (p *Policy) recover(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot, code schemas.ErrorCode) (schemas.StepResult, bool) {
	switch code {
	case schemas.ErrCodeElementNotFound:
		if !p.scrollRetryEligible(action.Type) {
			return schemas.StepResult{}, false
		}
		return p.scrollAndRetry(ctx, action, snap)
	case schemas.ErrCodeResolutionServiceError:
		if action.Description == "" {
			return schemas.StepResult{}, false
		}
		return p.heuristicRetry(ctx, action, snap)
	default:
		return schemas.StepResult{}, false
	}
}

func (p *Policy) scrollRetryEligible(t schemas.ActionType) bool {
	for _, name := range p.cfg.ScrollRetryActions {
		if schemas.ActionType(name) == t {
			return true
		}
	}
	return false
}

// scrollAndRetry nudges the viewport down on the theory that the element is
// below the fold, waits for the scroll to settle, refreshes the snapshot
// and reruns the action once.
func (p *Policy) scrollAndRetry(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (schemas.StepResult, bool) {
	amount := p.cfg.ScrollRetryAmount
	if amount == 0 {
		amount = 400
	}
	p.logger.Info("Element not found, scrolling and retrying once.",
		zap.String("type", string(action.Type)),
		zap.Float64("amount", amount))

	if err := p.scroller.ScrollBy(ctx, 0, amount); err != nil {
		p.logger.Warn("Recovery scroll failed.", zap.Error(err))
		return schemas.StepResult{}, false
	}
	if p.cfg.ScrollSettleDelay > 0 {
		select {
		case <-time.After(p.cfg.ScrollSettleDelay):
		case <-ctx.Done():
			return schemas.StepResult{}, false
		}
	}

	fresh, err := p.observer.Collect(ctx)
	if err != nil {
		p.logger.Warn("Snapshot refresh after recovery scroll failed.", zap.Error(err))
		fresh = snap
	}
	return p.exec.Execute(ctx, action, fresh), true
}

// heuristicRetry sidesteps the unavailable resolution service with a pure
// DOM text match over the snapshot already in hand. A hit is replayed as a
// literal-coordinate action so the executor skips resolution entirely.
func (p *Policy) heuristicRetry(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (schemas.StepResult, bool) {
	inputOnly := action.Type == schemas.ActionTypeText
	located, ok := resolve.HeuristicLocate(snap, action.Description, inputOnly)
	if !ok {
		return schemas.StepResult{}, false
	}

	p.logger.Info("Resolution service failed, retrying with heuristic match.",
		zap.String("description", action.Description),
		zap.Float64("x", located.X),
		zap.Float64("y", located.Y),
		zap.Float64("confidence", located.Confidence))

	annotated := action
	annotated.X = &located.X
	annotated.Y = &located.Y
	return p.exec.Execute(ctx, annotated, snap), true
}
