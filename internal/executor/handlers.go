package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/browser"
)

func (e *Executor) handleNavigate(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (string, error) {
	if action.URL == "" {
		return "", &stepError{code: schemas.ErrCodeInvalidParameters, msg: "navigate action without a url"}
	}
	if browser.IsRestrictedURL(action.URL) {
		return "", &stepError{
			code: schemas.ErrCodePermissionDenied,
			msg:  fmt.Sprintf("refusing to navigate to restricted url %q", action.URL),
		}
	}
	// Success means the navigation was issued. Load completion is observed
	// by the stability detector on the next iteration.
	if err := e.drv.Navigate(ctx, action.URL); err != nil {
		return "", &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("navigation to %s failed: %v", action.URL, err),
		}
	}
	return fmt.Sprintf("navigation to %s issued", action.URL), nil
}

func (e *Executor) handleClick(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (string, error) {
	x, y, err := e.resolveTarget(ctx, action, snap, false)
	if err != nil {
		return "", err
	}

	button := browser.MouseLeft
	if action.Type == schemas.ActionTypeRightClick {
		button = browser.MouseRight
	}
	if err := e.drv.Click(ctx, x, y, button); err != nil {
		return "", &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("click dispatch at (%.0f, %.0f) failed: %v", x, y, err),
		}
	}
	return fmt.Sprintf("clicked at (%.0f, %.0f)", x, y), nil
}

func (e *Executor) handleScroll(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (string, error) {
	amount := action.Amount
	if amount == 0 {
		amount = 400
	}
	if err := e.drv.ScrollBy(ctx, 0, amount); err != nil {
		return "", &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("scroll by %.0f failed: %v", amount, err),
		}
	}
	return fmt.Sprintf("scrolled by %.0f px", amount), nil
}

func (e *Executor) handleWait(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (string, error) {
	if action.DurationMs <= 0 {
		return "no wait duration given, returned immediately", nil
	}
	select {
	case <-time.After(time.Duration(action.DurationMs) * time.Millisecond):
		return fmt.Sprintf("waited %d ms", action.DurationMs), nil
	case <-ctx.Done():
		return "", &stepError{code: schemas.ErrCodeUserCancelled, msg: "wait interrupted by cancellation"}
	}
}

func (e *Executor) handleExtractText(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (string, error) {
	x, y, err := e.resolveTarget(ctx, action, snap, false)
	if err != nil {
		return "", err
	}

	script := fmt.Sprintf(`(() => {
		const el = document.elementFromPoint(%f, %f);
		if (!el) return "";
		return (el.innerText || el.textContent || "").trim();
	})()`, x, y)

	var text string
	if err := e.drv.Evaluate(ctx, script, &text); err != nil {
		return "", &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("text extraction at (%.0f, %.0f) failed: %v", x, y, err),
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", &stepError{
			code: schemas.ErrCodeElementNotFound,
			msg:  fmt.Sprintf("no text content at (%.0f, %.0f)", x, y),
		}
	}
	return text, nil
}

func (e *Executor) handleScreenshot(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (string, error) {
	img, err := e.drv.CaptureScreenshot(ctx)
	if err != nil {
		return "", &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("screenshot capture failed: %v", err),
		}
	}
	return fmt.Sprintf("captured %d byte screenshot", len(img)), nil
}

// largestImageScript picks the visually largest rendered image inside the
// viewport. Icons and tracking pixels lose to content images on area.
const largestImageScript = `(() => {
	let best = null;
	let bestArea = 0;
	for (const img of document.querySelectorAll("img[src]")) {
		const rect = img.getBoundingClientRect();
		const area = rect.width * rect.height;
		if (area <= 100) continue;
		if (rect.bottom < 0 || rect.top > window.innerHeight) continue;
		if (area > bestArea) {
			bestArea = area;
			best = img.currentSrc || img.src;
		}
	}
	return best || "";
})()`

func (e *Executor) handleDownloadImage(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (string, error) {
	var src string
	if err := e.drv.Evaluate(ctx, largestImageScript, &src); err != nil {
		return "", &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("image discovery failed: %v", err),
		}
	}
	if src == "" {
		return "", &stepError{code: schemas.ErrCodeElementNotFound, msg: "no qualifying image on the page"}
	}

	path, err := e.drv.DownloadFile(ctx, src)
	if err != nil {
		return "", &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("download of %s failed: %v", src, err),
		}
	}
	return fmt.Sprintf("downloaded %s to %s", src, path), nil
}

// handlePromptUser executes the post-prompt half of a prompt_user action.
// The loop collects the user's value first and annotates the action; an
// unannotated action reaching the executor is a sequencing bug.
func (e *Executor) handlePromptUser(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (string, error) {
	if action.UserProvidedValue == "" {
		return "", &stepError{
			code: schemas.ErrCodeInvalidParameters,
			msg:  "prompt_user action reached the executor without a user-provided value",
		}
	}
	if action.Description == "" {
		// Nothing to type it into; the value is for the decision service.
		return fmt.Sprintf("collected user input (%d chars)", len(action.UserProvidedValue)), nil
	}
	typed := action
	typed.Text = action.UserProvidedValue
	return e.handleType(ctx, typed, snap)
}
