package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/browser"
)

// Editable surface kinds as reported by focusedKindScript.
const (
	surfaceNative   = "native"
	surfaceEditable = "editable"
	surfaceNone     = "none"
)

// focusedKindScript classifies the currently focused element, following
// focus through nested same-origin iframes. Cross-origin frames stop the
// descent; their contents are unreachable by design.
const focusedKindScript = `(() => {
	const kindOf = (el) => {
		if (!el) return "none";
		const tag = (el.tagName || "").toLowerCase();
		if (tag === "input" || tag === "textarea") return "native";
		if (el.isContentEditable) return "editable";
		return "none";
	};
	const deepActive = (doc) => {
		let el = doc.activeElement;
		while (el && el.tagName && el.tagName.toLowerCase() === "iframe") {
			try {
				el = (el.contentDocument || el.contentWindow.document).activeElement;
			} catch (e) {
				break;
			}
		}
		return el;
	};
	return kindOf(deepActive(document));
})()`

// focusIframeEditableScript scans same-origin iframes for a contentEditable
// surface (rich-text editors typically host one in an iframe body) and
// focuses the first hit.
const focusIframeEditableScript = `(() => {
	const focusEditable = (doc) => {
		if (doc.body && doc.body.isContentEditable) {
			doc.body.focus();
			return true;
		}
		const el = doc.querySelector("[contenteditable='true'],[contenteditable='']");
		if (el) {
			el.focus();
			return true;
		}
		return false;
	};
	for (const frame of document.querySelectorAll("iframe")) {
		try {
			const doc = frame.contentDocument || frame.contentWindow.document;
			if (doc && focusEditable(doc)) return true;
		} catch (e) {
			// Cross-origin frame; skip.
		}
	}
	return false;
})()`

// changeEventScript fires a single change event on the focused element once
// typing has finished, matching what a real blur-commit would produce for
// framework listeners bound to change rather than input.
const changeEventScript = `(() => {
	const deepActive = (doc) => {
		let el = doc.activeElement;
		while (el && el.tagName && el.tagName.toLowerCase() === "iframe") {
			try {
				el = (el.contentDocument || el.contentWindow.document).activeElement;
			} catch (e) {
				break;
			}
		}
		return el;
	};
	const el = deepActive(document);
	if (!el) return false;
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return true;
})()`

// handleType implements the three-tier typing strategy: use whatever
// editable element already holds focus; otherwise resolve and click an
// input-like candidate; otherwise fall back to a contentEditable surface in
// a same-origin iframe.
func (e *Executor) handleType(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) (string, error) {
	if action.Text == "" {
		return "", &stepError{code: schemas.ErrCodeInvalidParameters, msg: "type action without text"}
	}

	kind, err := e.focusedSurfaceKind(ctx)
	if err != nil {
		return "", err
	}

	if kind == surfaceNone && action.Description != "" {
		x, y, resolveErr := e.resolveTarget(ctx, action, snap, true)
		if resolveErr == nil {
			if clickErr := e.drv.Click(ctx, x, y, browser.MouseLeft); clickErr != nil {
				return "", &stepError{
					code: schemas.ErrCodeExecutionFailure,
					msg:  fmt.Sprintf("focus click at (%.0f, %.0f) failed: %v", x, y, clickErr),
				}
			}
			select {
			case <-time.After(150 * time.Millisecond):
			case <-ctx.Done():
				return "", &stepError{code: schemas.ErrCodeUserCancelled, msg: "typing interrupted by cancellation"}
			}
			if kind, err = e.focusedSurfaceKind(ctx); err != nil {
				return "", err
			}
		}
	}

	if kind == surfaceNone {
		var focused bool
		if err := e.drv.Evaluate(ctx, focusIframeEditableScript, &focused); err == nil && focused {
			kind = surfaceEditable
		}
	}

	switch kind {
	case surfaceNative:
		return e.typeNative(ctx, action.Text)
	case surfaceEditable:
		return e.typeEditable(ctx, action.Text)
	default:
		return "", &stepError{
			code: schemas.ErrCodeElementNotFound,
			msg:  "no editable element to type into",
		}
	}
}

func (e *Executor) focusedSurfaceKind(ctx context.Context) (string, error) {
	var kind string
	if err := e.drv.Evaluate(ctx, focusedKindScript, &kind); err != nil {
		return "", &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("focus inspection failed: %v", err),
		}
	}
	return kind, nil
}

// typeNative sends one key event per rune so framework-bound input listeners
// fire for every character, then commits with exactly one change event.
func (e *Executor) typeNative(ctx context.Context, text string) (string, error) {
	if err := e.drv.TypeText(ctx, text); err != nil {
		return "", &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("key dispatch failed: %v", err),
		}
	}
	var dispatched bool
	if err := e.drv.Evaluate(ctx, changeEventScript, &dispatched); err != nil {
		return "", &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("change event dispatch failed: %v", err),
		}
	}
	return fmt.Sprintf("typed %d characters", len([]rune(text))), nil
}

// typeEditable inserts into a contentEditable surface with execCommand,
// which preserves undo history and IME composition. If the editing command
// reports failure the text is inserted by event simulation instead.
func (e *Executor) typeEditable(ctx context.Context, text string) (string, error) {
	script := fmt.Sprintf(`(() => {
		const findDoc = () => {
			const editable = (el) => el && el.isContentEditable;
			if (editable(document.activeElement)) return document;
			for (const frame of document.querySelectorAll("iframe")) {
				try {
					const doc = frame.contentDocument || frame.contentWindow.document;
					if (editable(doc.activeElement)) return doc;
					if (doc.body && doc.body.isContentEditable) {
						doc.body.focus();
						return doc;
					}
				} catch (e) {}
			}
			return null;
		};
		const doc = findDoc();
		if (!doc) return "no-surface";
		const text = %s;
		let ok = false;
		try {
			ok = doc.execCommand("insertText", false, text);
		} catch (e) {
			ok = false;
		}
		if (ok) return "inserted";
		const el = doc.activeElement;
		if (!el) return "no-surface";
		el.dispatchEvent(new InputEvent("beforeinput", { bubbles: true, cancelable: true, inputType: "insertText", data: text }));
		el.textContent += text;
		el.dispatchEvent(new InputEvent("input", { bubbles: true, inputType: "insertText", data: text }));
		return "simulated";
	})()`, jsString(text))

	var outcome string
	if err := e.drv.Evaluate(ctx, script, &outcome); err != nil {
		return "", &stepError{
			code: schemas.ErrCodeExecutionFailure,
			msg:  fmt.Sprintf("contenteditable insertion failed: %v", err),
		}
	}
	if outcome == "no-surface" {
		return "", &stepError{
			code: schemas.ErrCodeElementNotFound,
			msg:  "contenteditable surface disappeared before insertion",
		}
	}
	return fmt.Sprintf("inserted %d characters into editable surface (%s)", len([]rune(text)), outcome), nil
}
