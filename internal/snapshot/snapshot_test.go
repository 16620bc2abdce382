package snapshot

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/browser"
	"github.com/alaotach/foxxy-ai/internal/config"
)

// fakeDriver serves canned page data and records evaluated scripts.
type fakeDriver struct {
	info     browser.PageInfo
	elements []schemas.ElementCandidate
	scripts  []string
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error { return nil }
func (f *fakeDriver) PageInfo(ctx context.Context) (browser.PageInfo, error) {
	return f.info, nil
}
func (f *fakeDriver) ViewportSize() (int64, int64)                          { return 1280, 800 }
func (f *fakeDriver) CaptureScreenshot(ctx context.Context) ([]byte, error) { return nil, nil }
func (f *fakeDriver) Evaluate(ctx context.Context, expression string, out interface{}) error {
	f.scripts = append(f.scripts, expression)
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(f.elements)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
func (f *fakeDriver) Click(ctx context.Context, x, y float64, b browser.MouseButton) error {
	return nil
}
func (f *fakeDriver) TypeText(ctx context.Context, text string) error          { return nil }
func (f *fakeDriver) ScrollBy(ctx context.Context, dx, dy float64) error       { return nil }
func (f *fakeDriver) DownloadFile(ctx context.Context, u string) (string, error) { return "", nil }
func (f *fakeDriver) Close() error                                             { return nil }

func candidate(tag, text string, w, h float64) schemas.ElementCandidate {
	return schemas.ElementCandidate{
		Tag:  tag,
		Text: text,
		BoundingBox: schemas.BoundingBox{
			X: 10, Y: 10, Width: w, Height: h,
			CenterX: 10 + w/2, CenterY: 10 + h/2,
		},
	}
}

func TestCollect(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{
		info: browser.PageInfo{URL: "https://example.com/login", Title: "Login"},
		elements: []schemas.ElementCandidate{
			candidate("button", "Login", 120, 32),
			candidate("a", "Forgot password?", 140, 18),
			candidate("div", "", 0.5, 0.5),
		},
	}

	cfg := config.SnapshotConfig{OffscreenBufferPx: 2000, MaxElements: 50, MaxTextLength: 80}
	c := NewCollector(cfg, zap.NewNop())

	snap, err := c.Collect(context.Background(), drv)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/login", snap.Viewport.URL)
	assert.Equal(t, "Login", snap.Viewport.Title)
	assert.Equal(t, int64(1280), snap.Viewport.Width)
	assert.Equal(t, int64(800), snap.Viewport.Height)
	assert.False(t, snap.TakenAt.IsZero())

	// The degenerate box is filtered; the button outranks the link.
	require.Len(t, snap.Elements, 2)
	assert.Equal(t, "button", snap.Elements[0].Tag)
	assert.Equal(t, "a", snap.Elements[1].Tag)

	// The collection script must carry the configured buffer and caps.
	require.Len(t, drv.scripts, 1)
	assert.Contains(t, drv.scripts[0], "BUFFER = 2000")
	assert.Contains(t, drv.scripts[0], "MAX_TEXT = 80")
	assert.Contains(t, drv.scripts[0], "offsetParent")
	assert.Contains(t, drv.scripts[0], "contenteditable")
}

func TestRank(t *testing.T) {
	t.Parallel()

	t.Run("caps and orders by score", func(t *testing.T) {
		t.Parallel()
		elements := []schemas.ElementCandidate{
			candidate("div", "some card text", 300, 200),
			candidate("button", "Submit", 100, 30),
			candidate("a", "Home", 60, 20),
			candidate("input", "", 200, 28),
		}
		elements[3].IsInput = true
		elements[3].Placeholder = "Search"

		ranked := Rank(elements, 3)
		require.Len(t, ranked, 3)
		assert.Equal(t, "input", ranked[0].Tag)
		assert.Equal(t, "button", ranked[1].Tag)
		assert.Equal(t, "a", ranked[2].Tag)
		for _, el := range ranked {
			assert.Positive(t, el.Score)
		}
	})

	t.Run("stable for equal scores", func(t *testing.T) {
		t.Parallel()
		first := candidate("button", "One", 100, 30)
		second := candidate("button", "Two", 100, 30)
		ranked := Rank([]schemas.ElementCandidate{first, second}, 0)
		require.Len(t, ranked, 2)

		ignoreScore := cmpopts.IgnoreFields(schemas.ElementCandidate{}, "Score")
		if diff := cmp.Diff([]schemas.ElementCandidate{first, second}, ranked, ignoreScore); diff != "" {
			t.Errorf("equal-score input order not preserved (-want +got):\n%s", diff)
		}
	})

	t.Run("drops zero score elements", func(t *testing.T) {
		t.Parallel()
		empty := candidate("div", "", 300, 100)
		ranked := Rank([]schemas.ElementCandidate{empty}, 0)
		assert.Empty(t, ranked)
	})
}

func TestScore(t *testing.T) {
	t.Parallel()

	button := candidate("button", "Login", 120, 32)
	plainDiv := candidate("div", strings.Repeat("long text ", 30), 500, 400)
	assert.Greater(t, Score(button), Score(plainDiv))

	editable := candidate("div", "", 400, 200)
	editable.ContentEditable = true
	editable.IsInput = true
	assert.Positive(t, Score(editable))

	degenerate := candidate("button", "Tiny", 1, 1)
	assert.Zero(t, Score(degenerate))
}
