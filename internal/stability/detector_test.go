package stability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/internal/config"
)

// countingProbe returns a programmable mutation counter. A nonzero step
// simulates a page that mutates on every observation.
type countingProbe struct {
	count atomic.Int64
	step  atomic.Int64
	err   error
}

func (p *countingProbe) MutationCount(ctx context.Context) (int64, error) {
	if p.err != nil {
		return 0, p.err
	}
	return p.count.Add(p.step.Load()), nil
}

func testConfig() config.StabilityConfig {
	return config.StabilityConfig{
		QuietWindow:  50 * time.Millisecond,
		HardTimeout:  300 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestWaitForStable(t *testing.T) {
	t.Parallel()

	t.Run("already stable page resolves after one quiet window", func(t *testing.T) {
		t.Parallel()
		d := NewDetector(testConfig(), &countingProbe{}, zap.NewNop())

		start := time.Now()
		require.NoError(t, d.WaitForStable(context.Background()))
		elapsed := time.Since(start)

		assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
		assert.Less(t, elapsed, 250*time.Millisecond)
	})

	t.Run("hard ceiling holds under continuous mutation", func(t *testing.T) {
		t.Parallel()
		probe := &countingProbe{}
		probe.step.Store(1) // every poll sees a new mutation
		d := NewDetector(testConfig(), probe, zap.NewNop())

		start := time.Now()
		require.NoError(t, d.WaitForStable(context.Background()))
		elapsed := time.Since(start)

		assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
		assert.Less(t, elapsed, 600*time.Millisecond, "hard timeout must bound the wait")
	})

	t.Run("resolves once mutations stop", func(t *testing.T) {
		t.Parallel()
		probe := &countingProbe{}
		probe.step.Store(1)
		cfg := config.StabilityConfig{
			QuietWindow:  40 * time.Millisecond,
			HardTimeout:  2 * time.Second,
			PollInterval: 10 * time.Millisecond,
		}
		d := NewDetector(cfg, probe, zap.NewNop())

		// Stop mutating shortly after the wait begins.
		time.AfterFunc(80*time.Millisecond, func() { probe.step.Store(0) })

		start := time.Now()
		require.NoError(t, d.WaitForStable(context.Background()))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("context cancellation interrupts the wait", func(t *testing.T) {
		t.Parallel()
		probe := &countingProbe{}
		probe.step.Store(1)
		cfg := testConfig()
		cfg.HardTimeout = 10 * time.Second
		d := NewDetector(cfg, probe, zap.NewNop())

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)

		err := d.WaitForStable(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("probe failure surfaces", func(t *testing.T) {
		t.Parallel()
		probe := &countingProbe{err: errors.New("tab crashed")}
		d := NewDetector(testConfig(), probe, zap.NewNop())

		err := d.WaitForStable(context.Background())
		assert.ErrorContains(t, err, "tab crashed")
	})
}
