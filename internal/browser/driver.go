package browser

import (
	"context"
)

// MouseButton selects which button a synthetic click uses.
type MouseButton string

const (
	MouseLeft  MouseButton = "left"
	MouseRight MouseButton = "right"
)

// PageInfo is the current page identity.
type PageInfo struct {
	URL   string
	Title string
}

// Driver is the surface the executor, snapshotter and agent loop use to talk
// to the page. The production implementation is Session; tests substitute
// fakes.
type Driver interface {
	// Navigate issues the navigation and returns once the browser has
	// accepted it. It does not wait for the load event; readiness is the
	// stability detector's job.
	Navigate(ctx context.Context, url string) error

	// PageInfo returns the current URL and title.
	PageInfo(ctx context.Context) (PageInfo, error)

	// ViewportSize returns the configured viewport dimensions in CSS pixels.
	ViewportSize() (width, height int64)

	// CaptureScreenshot returns a viewport-sized PNG.
	CaptureScreenshot(ctx context.Context) ([]byte, error)

	// Evaluate runs a JavaScript expression in the page and unmarshals its
	// result into out. A nil out discards the result.
	Evaluate(ctx context.Context, expression string, out interface{}) error

	// Click dispatches a mousePressed/mouseReleased pair at the exact
	// coordinate. Coordinates are trusted here; bounds checks belong to the
	// caller.
	Click(ctx context.Context, x, y float64, button MouseButton) error

	// TypeText emits one key event per rune, in order.
	TypeText(ctx context.Context, text string) error

	// ScrollBy dispatches a wheel event with the given signed deltas.
	ScrollBy(ctx context.Context, deltaX, deltaY float64) error

	// DownloadFile fetches the resource at url into the download directory
	// and returns the local path.
	DownloadFile(ctx context.Context, url string) (string, error)

	// Close tears down the browser process.
	Close() error
}
