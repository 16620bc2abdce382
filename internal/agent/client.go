package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/config"
)

// DecisionClient asks the external decision service for the next step of a
// goal. The service is untrusted: it may loop forever, return garbage, or
// go away mid-goal. Any transport or protocol failure here is fatal to the
// current goal.
type DecisionClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewDecisionClient(cfg config.ServicesConfig, logger *zap.Logger) *DecisionClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionClient{
		baseURL: strings.TrimRight(cfg.DecisionURL, "/"),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger.Named("decision"),
	}
}

// NextStep performs one decision round trip. Non-2xx status and malformed
// JSON are both returned as errors; the loop treats either as fatal.
func (d *DecisionClient) NextStep(ctx context.Context, req schemas.NextStepRequest) (schemas.NextStepResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return schemas.NextStepResponse{}, fmt.Errorf("marshal next_step request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/agent/next_step", bytes.NewReader(payload))
	if err != nil {
		return schemas.NextStepResponse{}, fmt.Errorf("build next_step request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return schemas.NextStepResponse{}, fmt.Errorf("decision service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return schemas.NextStepResponse{}, fmt.Errorf("read decision response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return schemas.NextStepResponse{}, fmt.Errorf("decision service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed schemas.NextStepResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return schemas.NextStepResponse{}, fmt.Errorf("malformed decision response: %w", err)
	}

	d.logger.Debug("Decision service replied.",
		zap.Bool("completed", parsed.Completed),
		zap.Bool("has_action", parsed.NextAction != nil),
		zap.String("reasoning", parsed.Reasoning))
	return parsed, nil
}
