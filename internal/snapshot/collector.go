package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/browser"
	"github.com/alaotach/foxxy-ai/internal/config"
)

// collectScript gathers interactive elements from the main document and any
// same-origin iframes. It is a read-only pass; the result is stale the
// moment the DOM mutates. Placeholders: offscreen buffer px, max text
// length, element cap.
const collectScript = `(() => {
	const BUFFER = %d;
	const MAX_TEXT = %d;
	const LIMIT = %d;
	const vw = window.innerWidth;
	const vh = window.innerHeight;
	const SELECTOR = [
		"a[href]", "button", "input", "select", "textarea",
		"[role='button']", "[role='link']", "[role='checkbox']",
		"[role='radio']", "[role='tab']", "[role='menuitem']",
		"[role='combobox']", "[role='option']", "[role='textbox']",
		"[role='searchbox']", "[role='switch']",
		"[contenteditable='true']", "[contenteditable='']",
		"[tabindex]", "[onclick]", "[data-testid]",
		"[class*='card']", "[class*='Card']", "[class*='template']", "[class*='Template']"
	].join(",");

	const inWindow = (rect) =>
		rect.bottom > -BUFFER && rect.top < vh + BUFFER &&
		rect.right > -BUFFER && rect.left < vw + BUFFER;

	const describe = (el) => {
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) return null;
		if (el.offsetParent === null && getComputedStyle(el).position !== "fixed") return null;
		if (!inWindow(rect)) return null;
		const tag = el.tagName.toLowerCase();
		const editable = el.isContentEditable === true;
		const isInput = tag === "input" || tag === "textarea" || tag === "select" || editable;
		let text = (el.innerText || el.textContent || el.value || "").trim().replace(/\s+/g, " ");
		if (text.length > MAX_TEXT) text = text.slice(0, MAX_TEXT);
		return {
			tag: tag,
			role: el.getAttribute("role") || "",
			text: text,
			aria_label: el.getAttribute("aria-label") || "",
			placeholder: el.getAttribute("placeholder") || "",
			bounding_box: {
				x: rect.x, y: rect.y,
				width: rect.width, height: rect.height,
				center_x: rect.x + rect.width / 2,
				center_y: rect.y + rect.height / 2
			},
			is_input: isInput,
			content_editable: editable
		};
	};

	const out = [];
	const seen = new Set();
	const collect = (root) => {
		if (!root || out.length >= LIMIT) return;
		let nodes;
		try { nodes = root.querySelectorAll(SELECTOR); } catch (e) { return; }
		for (const el of nodes) {
			if (out.length >= LIMIT) break;
			if (seen.has(el)) continue;
			seen.add(el);
			const d = describe(el);
			if (d) out.push(d);
			if (el.shadowRoot) collect(el.shadowRoot);
		}
	};

	collect(document);
	for (const frame of document.querySelectorAll("iframe")) {
		if (out.length >= LIMIT) break;
		try {
			collect(frame.contentDocument || frame.contentWindow.document);
		} catch (e) {
			// Cross-origin frame; skip.
		}
	}
	return out;
})()`

// Collector produces PageSnapshots over a browser driver.
type Collector struct {
	cfg    config.SnapshotConfig
	logger *zap.Logger
}

func NewCollector(cfg config.SnapshotConfig, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{cfg: cfg, logger: logger.Named("snapshot")}
}

// Collect extracts the current interactive-element snapshot. It has no side
// effects on the page and is safe to call repeatedly.
func (c *Collector) Collect(ctx context.Context, drv browser.Driver) (schemas.PageSnapshot, error) {
	info, err := drv.PageInfo(ctx)
	if err != nil {
		return schemas.PageSnapshot{}, fmt.Errorf("snapshot page info: %w", err)
	}
	width, height := drv.ViewportSize()

	script := fmt.Sprintf(collectScript, c.cfg.OffscreenBufferPx, c.cfg.MaxTextLength, c.cfg.MaxElements*2)

	var elements []schemas.ElementCandidate
	if err := drv.Evaluate(ctx, script, &elements); err != nil {
		return schemas.PageSnapshot{}, fmt.Errorf("snapshot collection script: %w", err)
	}

	ranked := Rank(elements, c.cfg.MaxElements)
	c.logger.Debug("Collected page snapshot.",
		zap.String("url", info.URL),
		zap.Int("raw_elements", len(elements)),
		zap.Int("ranked_elements", len(ranked)))

	return schemas.PageSnapshot{
		Viewport: schemas.Viewport{
			URL:    info.URL,
			Title:  info.Title,
			Width:  width,
			Height: height,
		},
		Elements: ranked,
		TakenAt:  time.Now(),
	}, nil
}
