package resolve

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/config"
)

func testSnapshot() schemas.PageSnapshot {
	return schemas.PageSnapshot{
		Viewport: schemas.Viewport{URL: "https://example.com", Title: "Example", Width: 1280, Height: 800},
		Elements: []schemas.ElementCandidate{
			{
				Tag: "button", Text: "Login",
				BoundingBox: schemas.BoundingBox{X: 100, Y: 30, Width: 40, Height: 20, CenterX: 120, CenterY: 40},
			},
			{
				Tag: "input", Placeholder: "Email address", IsInput: true,
				BoundingBox: schemas.BoundingBox{X: 100, Y: 80, Width: 200, Height: 28, CenterX: 200, CenterY: 94},
			},
			{
				Tag: "a", Text: "Forgot password?",
				BoundingBox: schemas.BoundingBox{X: 100, Y: 130, Width: 140, Height: 18, CenterX: 170, CenterY: 139},
			},
		},
	}
}

func newTestResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewResolver(config.ServicesConfig{
		ResolutionURL:  srv.URL,
		RequestTimeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestResolve(t *testing.T) {
	t.Parallel()

	t.Run("successful resolution", func(t *testing.T) {
		t.Parallel()
		screenshot := []byte{0x89, 'P', 'N', 'G'}
		var received schemas.FindElementRequest

		r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
			require.Equal(t, http.MethodPost, req.Method)
			require.Equal(t, "/vision/find_element", req.URL.Path)
			require.NoError(t, json.NewDecoder(req.Body).Decode(&received))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true,"x":120,"y":40,"method":"dom","confidence":0.92}`))
		})

		result, err := r.Resolve(context.Background(), screenshot, testSnapshot(), "Login button", false)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, float64(120), result.X)
		assert.Equal(t, float64(40), result.Y)
		assert.Equal(t, schemas.MethodDOM, result.Method)
		assert.InDelta(t, 0.92, result.Confidence, 1e-9)

		assert.Equal(t, base64.StdEncoding.EncodeToString(screenshot), received.Screenshot)
		assert.Equal(t, "Login button", received.Description)
		assert.Equal(t, int64(1280), received.ViewportWidth)
		assert.Len(t, received.DOMSnapshot, 3)
	})

	t.Run("input-only request filters the DOM subset", func(t *testing.T) {
		t.Parallel()
		var received schemas.FindElementRequest
		r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&received))
			_, _ = w.Write([]byte(`{"success":false,"error":"not found"}`))
		})

		result, err := r.Resolve(context.Background(), nil, testSnapshot(), "email field", true)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "not found", result.Error)

		require.Len(t, received.DOMSnapshot, 1)
		assert.Equal(t, "input", received.DOMSnapshot[0].Tag)
	})

	t.Run("non-2xx is a transport error", func(t *testing.T) {
		t.Parallel()
		r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "vision backend overloaded", http.StatusBadGateway)
		})

		_, err := r.Resolve(context.Background(), nil, testSnapshot(), "anything", false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 502")
	})

	t.Run("malformed JSON is a transport error", func(t *testing.T) {
		t.Parallel()
		r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		})

		_, err := r.Resolve(context.Background(), nil, testSnapshot(), "anything", false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed resolution response")
	})

	t.Run("unreachable service surfaces an error", func(t *testing.T) {
		t.Parallel()
		r := NewResolver(config.ServicesConfig{
			ResolutionURL:  "http://127.0.0.1:1",
			RequestTimeout: 500 * time.Millisecond,
		}, zap.NewNop())

		_, err := r.Resolve(context.Background(), nil, testSnapshot(), "anything", false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolution service unreachable")
	})
}

func TestHeuristicLocate(t *testing.T) {
	t.Parallel()

	snap := testSnapshot()

	t.Run("exact text match", func(t *testing.T) {
		t.Parallel()
		result, ok := HeuristicLocate(snap, "Login", false)
		require.True(t, ok)
		assert.Equal(t, float64(120), result.X)
		assert.Equal(t, float64(40), result.Y)
		assert.Equal(t, schemas.MethodHeuristic, result.Method)
	})

	t.Run("paraphrased description still finds the element", func(t *testing.T) {
		t.Parallel()
		result, ok := HeuristicLocate(snap, "the login button", false)
		require.True(t, ok)
		assert.Equal(t, float64(120), result.X)
	})

	t.Run("placeholder match on inputs", func(t *testing.T) {
		t.Parallel()
		result, ok := HeuristicLocate(snap, "email address", true)
		require.True(t, ok)
		assert.Equal(t, float64(200), result.X)
		assert.Equal(t, float64(94), result.Y)
	})

	t.Run("input-only ignores non-input matches", func(t *testing.T) {
		t.Parallel()
		_, ok := HeuristicLocate(snap, "Login", true)
		assert.False(t, ok)
	})

	t.Run("no match", func(t *testing.T) {
		t.Parallel()
		_, ok := HeuristicLocate(snap, "purchase a yacht", false)
		assert.False(t, ok)
	})

	t.Run("empty description", func(t *testing.T) {
		t.Parallel()
		_, ok := HeuristicLocate(snap, "   ", false)
		assert.False(t, ok)
	})
}
