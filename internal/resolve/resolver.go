package resolve

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/config"
)

// Resolver locates elements through the external resolution service. The
// service gets both the screenshot (visual grounding for icons and
// canvas-rendered UI) and the DOM candidate subset (precise geometry); it
// returns one viewport coordinate.
type Resolver struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewResolver(cfg config.ServicesConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		baseURL: strings.TrimRight(cfg.ResolutionURL, "/"),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger.Named("resolver"),
	}
}

// Resolve asks the resolution service for the coordinate of the described
// element. Transport and protocol failures return an error; a well-formed
// "not found" reply returns Success=false with a nil error. The caller owns
// the fallback decision either way.
func (r *Resolver) Resolve(ctx context.Context, screenshot []byte, snap schemas.PageSnapshot, description string, inputOnly bool) (schemas.ResolutionResult, error) {
	reqBody := schemas.FindElementRequest{
		Screenshot:     base64.StdEncoding.EncodeToString(screenshot),
		Description:    description,
		ViewportWidth:  snap.Viewport.Width,
		ViewportHeight: snap.Viewport.Height,
		DOMSnapshot:    relevantSubset(snap.Elements, inputOnly),
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return schemas.ResolutionResult{}, fmt.Errorf("marshal find_element request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/vision/find_element", bytes.NewReader(payload))
	if err != nil {
		return schemas.ResolutionResult{}, fmt.Errorf("build find_element request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return schemas.ResolutionResult{}, fmt.Errorf("resolution service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return schemas.ResolutionResult{}, fmt.Errorf("read resolution response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return schemas.ResolutionResult{}, fmt.Errorf("resolution service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed schemas.FindElementResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return schemas.ResolutionResult{}, fmt.Errorf("malformed resolution response: %w", err)
	}

	result := schemas.ResolutionResult{
		Success:     parsed.Success,
		X:           parsed.X,
		Y:           parsed.Y,
		Method:      parsed.Method,
		Confidence:  parsed.Confidence,
		ElementInfo: parsed.ElementInfo,
		Error:       parsed.Error,
	}
	if result.Success && result.Method == "" {
		result.Method = schemas.MethodVision
	}

	r.logger.Debug("Resolution service replied.",
		zap.Bool("success", result.Success),
		zap.Float64("x", result.X),
		zap.Float64("y", result.Y),
		zap.String("method", string(result.Method)),
		zap.Float64("confidence", result.Confidence))
	return result, nil
}

// relevantSubset trims the candidate list to what the service needs. When
// the target is known to be an input, non-inputs are noise that worsens the
// model's false-positive rate.
func relevantSubset(elements []schemas.ElementCandidate, inputOnly bool) []schemas.ElementCandidate {
	if !inputOnly {
		return elements
	}
	subset := make([]schemas.ElementCandidate, 0, len(elements))
	for _, el := range elements {
		if el.IsInput || el.ContentEditable {
			subset = append(subset, el)
		}
	}
	return subset
}
