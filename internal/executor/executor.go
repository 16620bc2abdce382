package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/browser"
	"github.com/alaotach/foxxy-ai/internal/config"
)

// ElementResolver locates an element described in natural language on the
// current page. Implemented by resolve.Resolver; tests substitute fakes.
type ElementResolver interface {
	Resolve(ctx context.Context, screenshot []byte, snap schemas.PageSnapshot, description string, inputOnly bool) (schemas.ResolutionResult, error)
}

// actionHandler executes one action against the page. It returns
// human-readable observations or a *stepError carrying the taxonomy code.
type actionHandler func(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (string, error)

// Executor runs exactly one action at a time against the page. Each handler
// is atomic relative to the loop; there is no step overlap by construction.
type Executor struct {
	drv      browser.Driver
	resolver ElementResolver
	cfg      config.BrowserConfig
	logger   *zap.Logger
	handlers map[schemas.ActionType]actionHandler
}

func New(drv browser.Driver, resolver ElementResolver, cfg config.BrowserConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		drv:      drv,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.Named("executor"),
		handlers: make(map[schemas.ActionType]actionHandler),
	}
	e.registerHandlers()
	return e
}

func (e *Executor) registerHandlers() {
	e.handlers[schemas.ActionTypeNavigate] = e.handleNavigate
	e.handlers[schemas.ActionTypeClick] = e.handleClick
	e.handlers[schemas.ActionTypeRightClick] = e.handleClick
	e.handlers[schemas.ActionTypeText] = e.handleType
	e.handlers[schemas.ActionTypeScroll] = e.handleScroll
	e.handlers[schemas.ActionTypeWait] = e.handleWait
	e.handlers[schemas.ActionTypeExtractText] = e.handleExtractText
	e.handlers[schemas.ActionTypeScreenshot] = e.handleScreenshot
	e.handlers[schemas.ActionTypeDownloadImage] = e.handleDownloadImage
	e.handlers[schemas.ActionTypePromptUser] = e.handlePromptUser
}

// Execute runs one action and reports the outcome as a StepResult. Failures
// are always folded into the result; the error return is reserved for a
// cancelled context.
func (e *Executor) Execute(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) schemas.StepResult {
	start := time.Now()
	result := schemas.StepResult{
		StepID:    uuid.NewString()[:8],
		Action:    action,
		Timestamp: start,
	}

	observations, err := e.run(ctx, action, snap)
	result.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		result.ErrorCode, result.Error = splitError(err)
		e.logger.Warn("Action failed.",
			zap.String("type", string(action.Type)),
			zap.String("error_code", string(result.ErrorCode)),
			zap.String("error", result.Error))
		return result
	}

	result.Success = true
	result.Observations = observations
	e.logger.Info("Action executed.",
		zap.String("type", string(action.Type)),
		zap.Int64("duration_ms", result.DurationMs))
	return result
}

func (e *Executor) run(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (string, error) {
	handler, ok := e.handlers[action.Type]
	if !ok {
		return "", &stepError{
			code: schemas.ErrCodeUnknownAction,
			msg:  fmt.Sprintf("no handler for action type %q", action.Type),
		}
	}

	// Restricted pages refuse synthetic input outright. Navigation away is
	// the only action allowed on them.
	if action.Type != schemas.ActionTypeNavigate && browser.IsRestrictedURL(snap.Viewport.URL) {
		return "", &stepError{
			code: schemas.ErrCodePermissionDenied,
			msg:  fmt.Sprintf("page %q refuses automated interaction", snap.Viewport.URL),
		}
	}

	return handler(ctx, action, snap)
}

// resolveTarget produces the coordinate an action operates on: a literal
// coordinate from the decision service when present, otherwise a resolution
// round trip. The coordinate is bounds-checked either way; out-of-range is a
// hard failure, never clamped.
func (e *Executor) resolveTarget(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot, inputOnly bool) (float64, float64, error) {
	if action.X != nil && action.Y != nil {
		x, y := *action.X, *action.Y
		if err := e.validateCoordinate(x, y); err != nil {
			return 0, 0, err
		}
		return x, y, nil
	}

	if action.Description == "" {
		return 0, 0, &stepError{
			code: schemas.ErrCodeInvalidParameters,
			msg:  "action carries neither coordinates nor a description",
		}
	}

	screenshot, err := e.drv.CaptureScreenshot(ctx)
	if err != nil {
		return 0, 0, &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("screenshot for resolution failed: %v", err),
		}
	}

	result, err := e.resolver.Resolve(ctx, screenshot, snap, action.Description, inputOnly)
	if err != nil {
		return 0, 0, &stepError{
			code: schemas.ErrCodeResolutionServiceError,
			msg:  err.Error(),
		}
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("no element matching %q", action.Description)
		}
		return 0, 0, &stepError{code: schemas.ErrCodeElementNotFound, msg: msg}
	}

	e.logger.Debug("Element resolved.",
		zap.String("description", action.Description),
		zap.Float64("x", result.X),
		zap.Float64("y", result.Y),
		zap.String("method", string(result.Method)),
		zap.Float64("confidence", result.Confidence))

	if err := e.validateCoordinate(result.X, result.Y); err != nil {
		return 0, 0, err
	}
	return result.X, result.Y, nil
}

func (e *Executor) validateCoordinate(x, y float64) error {
	width, height := e.drv.ViewportSize()
	if x < 0 || y < 0 || x > float64(width) || y > float64(height) {
		return &stepError{
			code: schemas.ErrCodeInvalidParameters,
			msg:  fmt.Sprintf("coordinate (%.0f, %.0f) is outside the %dx%d viewport", x, y, width, height),
		}
	}
	return nil
}

// stepError carries the error-taxonomy code alongside the message.
type stepError struct {
	code schemas.ErrorCode
	msg  string
}

func (s *stepError) Error() string { return s.msg }

func splitError(err error) (schemas.ErrorCode, string) {
	if se, ok := err.(*stepError); ok {
		return se.code, se.msg
	}
	return schemas.ErrCodeExecutionFailure, err.Error()
}

// jsString renders s as a JavaScript string literal. JSON string encoding is
// valid JS source, so this is injection-safe for embedding into expressions.
func jsString(s string) string {
	raw, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(raw)
}
