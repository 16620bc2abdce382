package stability

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/internal/browser"
	"github.com/alaotach/foxxy-ai/internal/config"
)

// probeScript installs a MutationObserver counting subtree, attribute and
// text mutations on the document root, then reports the running total. The
// install is idempotent and re-runs naturally after a navigation wipes the
// page, so every read re-arms the counter.
const probeScript = `(() => {
	if (!window.__foxxyMutations) {
		window.__foxxyMutations = { count: 0 };
		try {
			new MutationObserver((records) => {
				window.__foxxyMutations.count += records.length;
			}).observe(document.documentElement, {
				childList: true,
				subtree: true,
				attributes: true,
				characterData: true
			});
		} catch (e) {
			// documentElement can be briefly absent mid-navigation.
		}
	}
	return window.__foxxyMutations.count;
})()`

// Probe reads the page's cumulative mutation count. The production probe
// evaluates probeScript; tests substitute synthetic counters.
type Probe interface {
	MutationCount(ctx context.Context) (int64, error)
}

// PageProbe reads mutation counts through a browser driver.
type PageProbe struct {
	drv browser.Driver
}

var _ Probe = (*PageProbe)(nil)

func NewPageProbe(drv browser.Driver) *PageProbe {
	return &PageProbe{drv: drv}
}

func (p *PageProbe) MutationCount(ctx context.Context) (int64, error) {
	var count int64
	if err := p.drv.Evaluate(ctx, probeScript, &count); err != nil {
		return 0, fmt.Errorf("mutation probe: %w", err)
	}
	return count, nil
}

// Detector decides when the page has stopped mutating.
type Detector struct {
	cfg    config.StabilityConfig
	probe  Probe
	logger *zap.Logger
}

func NewDetector(cfg config.StabilityConfig, probe Probe, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, probe: probe, logger: logger.Named("stability")}
}

// WaitForStable returns once the mutation counter has held still for the
// configured quiet window, or unconditionally at the hard timeout. The hard
// timeout is a designed fallback for pages that never settle (animations,
// video, tickers) and returns nil; only context cancellation and probe
// failures surface as errors. A page that is already quiet resolves after a
// single quiet window.
func (d *Detector) WaitForStable(ctx context.Context) error {
	deadline := time.Now().Add(d.cfg.HardTimeout)

	last, err := d.probe.MutationCount(ctx)
	if err != nil {
		return err
	}
	quietSince := time.Now()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			d.logger.Debug("Stability hard timeout reached; proceeding with a mutating page.",
				zap.Duration("hard_timeout", d.cfg.HardTimeout))
			return nil
		}

		current, err := d.probe.MutationCount(ctx)
		if err != nil {
			return err
		}

		if current != last {
			last = current
			quietSince = time.Now()
			continue
		}

		if time.Since(quietSince) >= d.cfg.QuietWindow {
			d.logger.Debug("Page stable.", zap.Duration("quiet_window", d.cfg.QuietWindow))
			return nil
		}
	}
}
