package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alaotach/foxxy-ai/api/schemas"
	"github.com/alaotach/foxxy-ai/internal/config"
)

type fakePager struct {
	navigations []string
}

func (f *fakePager) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (f *fakePager) Navigate(ctx context.Context, url string) error {
	f.navigations = append(f.navigations, url)
	return nil
}

type stubObserver struct{ err error }

func (s *stubObserver) Collect(ctx context.Context) (schemas.PageSnapshot, error) {
	if s.err != nil {
		return schemas.PageSnapshot{}, s.err
	}
	return schemas.PageSnapshot{
		Viewport: schemas.Viewport{URL: "https://example.com", Title: "Example", Width: 1280, Height: 800},
	}, nil
}

type stubStabilizer struct{}

func (stubStabilizer) WaitForStable(ctx context.Context) error { return ctx.Err() }

type failingStabilizer struct{ err error }

func (f failingStabilizer) WaitForStable(ctx context.Context) error { return f.err }

// scriptedRunner returns canned step results and records what it ran.
type scriptedRunner struct {
	results []schemas.StepResult
	actions []schemas.Action
	resets  int
}

func (s *scriptedRunner) Run(ctx context.Context, action schemas.Action, snap schemas.PageSnapshot) schemas.StepResult {
	s.actions = append(s.actions, action)
	if len(s.results) == 0 {
		return schemas.StepResult{StepID: fmt.Sprintf("s%d", len(s.actions)), Action: action, Success: true}
	}
	next := s.results[0]
	s.results = s.results[1:]
	next.Action = action
	next.StepID = fmt.Sprintf("s%d", len(s.actions))
	return next
}

func (s *scriptedRunner) ResetLedger() { s.resets++ }

// scriptedDecider replays responses in order. onCall runs before each reply
// so tests can inject cancellation mid round trip.
type scriptedDecider struct {
	responses []schemas.NextStepResponse
	errs      []error
	requests  []schemas.NextStepRequest
	onCall    func(call int)
}

func (s *scriptedDecider) NextStep(ctx context.Context, req schemas.NextStepRequest) (schemas.NextStepResponse, error) {
	call := len(s.requests)
	s.requests = append(s.requests, req)
	if s.onCall != nil {
		s.onCall(call)
	}
	if call < len(s.errs) && s.errs[call] != nil {
		return schemas.NextStepResponse{}, s.errs[call]
	}
	if call < len(s.responses) {
		return s.responses[call], nil
	}
	return s.responses[len(s.responses)-1], nil
}

type stubPrompter struct {
	value    string
	provided bool
	prompts  []string
}

func (s *stubPrompter) Prompt(ctx context.Context, prompt string) (string, bool, error) {
	s.prompts = append(s.prompts, prompt)
	return s.value, s.provided, nil
}

func actionResponse(a schemas.Action) schemas.NextStepResponse {
	return schemas.NextStepResponse{NextAction: &a}
}

func completedResponse(msg string) schemas.NextStepResponse {
	return schemas.NextStepResponse{Completed: true, FinalMessage: msg}
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{MaxSteps: 10, EscapeURL: "https://www.google.com"}
}

func newTestLoop(runner StepRunner, decider Decider, prompter Prompter, cfg config.AgentConfig) (*Loop, *fakePager) {
	pager := &fakePager{}
	return NewLoop(pager, &stubObserver{}, stubStabilizer{}, runner, decider, prompter, cfg, nil), pager
}

func TestLoopTermination(t *testing.T) {
	t.Parallel()

	t.Run("immediate completion executes nothing", func(t *testing.T) {
		t.Parallel()
		runner := &scriptedRunner{}
		decider := &scriptedDecider{responses: []schemas.NextStepResponse{completedResponse("already there")}}
		loop, _ := newTestLoop(runner, decider, nil, testAgentConfig())

		outcome := loop.RunGoal(context.Background(), "check the page")

		assert.Equal(t, string(StateCompleted), outcome.State)
		assert.Equal(t, "already there", outcome.FinalMessage)
		assert.Zero(t, outcome.Steps)
		assert.Empty(t, runner.actions)
		assert.Equal(t, 1, runner.resets, "ledger resets once per goal")
	})

	t.Run("steps accumulate until completion", func(t *testing.T) {
		t.Parallel()
		runner := &scriptedRunner{}
		decider := &scriptedDecider{responses: []schemas.NextStepResponse{
			actionResponse(schemas.Action{Type: schemas.ActionTypeClick, Description: "Accept cookies"}),
			actionResponse(schemas.Action{Type: schemas.ActionTypeClick, Description: "Login"}),
			completedResponse("logged in"),
		}}
		loop, _ := newTestLoop(runner, decider, nil, testAgentConfig())

		outcome := loop.RunGoal(context.Background(), "log in")

		assert.Equal(t, string(StateCompleted), outcome.State)
		assert.Equal(t, 2, outcome.Steps)
		require.Len(t, outcome.History, 2)
		assert.Contains(t, outcome.History[0], "Accept cookies")
		assert.Contains(t, outcome.History[1], "Login")

		// Each decision round trip sees the history accumulated so far.
		require.Len(t, decider.requests, 3)
		assert.Empty(t, decider.requests[0].History)
		assert.Len(t, decider.requests[1].History, 1)
		assert.Len(t, decider.requests[2].History, 2)
		assert.Equal(t, "log in", decider.requests[0].Goal)
		assert.NotEmpty(t, decider.requests[0].Screenshot)
		assert.Equal(t, int64(1280), decider.requests[0].Viewport.Width)
	})

	t.Run("step ceiling binds a never-completing service", func(t *testing.T) {
		t.Parallel()
		runner := &scriptedRunner{}
		decider := &scriptedDecider{responses: []schemas.NextStepResponse{
			actionResponse(schemas.Action{Type: schemas.ActionTypeScroll, Amount: 400}),
		}}
		cfg := testAgentConfig()
		cfg.MaxSteps = 5
		loop, _ := newTestLoop(runner, decider, nil, cfg)

		outcome := loop.RunGoal(context.Background(), "scroll forever")

		assert.Equal(t, string(StateFailed), outcome.State)
		assert.Equal(t, 5, outcome.Steps)
		assert.Len(t, runner.actions, 5)
		assert.Contains(t, outcome.FinalMessage, "step budget")
	})

	t.Run("decision service failure is fatal", func(t *testing.T) {
		t.Parallel()
		runner := &scriptedRunner{}
		decider := &scriptedDecider{errs: []error{errors.New("status 503")}}
		loop, _ := newTestLoop(runner, decider, nil, testAgentConfig())

		outcome := loop.RunGoal(context.Background(), "anything")

		assert.Equal(t, string(StateFailed), outcome.State)
		assert.Contains(t, outcome.FinalMessage, "decision service")
		assert.Empty(t, runner.actions)
	})

	t.Run("neither completion nor action means stuck", func(t *testing.T) {
		t.Parallel()
		runner := &scriptedRunner{}
		decider := &scriptedDecider{responses: []schemas.NextStepResponse{{Reasoning: "hmm"}}}
		loop, _ := newTestLoop(runner, decider, nil, testAgentConfig())

		outcome := loop.RunGoal(context.Background(), "anything")

		assert.Equal(t, string(StateFailed), outcome.State)
		assert.Empty(t, runner.actions)
	})
}

func TestLoopStabilityFailure(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	decider := &scriptedDecider{}
	pager := &fakePager{}
	stabilizer := failingStabilizer{err: errors.New("mutation probe: tab crashed")}
	loop := NewLoop(pager, &stubObserver{}, stabilizer, runner, decider, nil, testAgentConfig(), nil)

	outcome := loop.RunGoal(context.Background(), "check the page")

	assert.Equal(t, string(StateFailed), outcome.State)
	assert.Contains(t, outcome.FinalMessage, "tab crashed")
	assert.Empty(t, runner.actions)
	assert.Empty(t, decider.requests, "a broken page must not reach the decision service")
}

func TestLoopCancellation(t *testing.T) {
	t.Parallel()

	t.Run("cancel before the first iteration", func(t *testing.T) {
		t.Parallel()
		runner := &scriptedRunner{}
		decider := &scriptedDecider{responses: []schemas.NextStepResponse{
			actionResponse(schemas.Action{Type: schemas.ActionTypeClick, Description: "x"}),
		}}
		loop, _ := newTestLoop(runner, decider, nil, testAgentConfig())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		outcome := loop.RunGoal(ctx, "anything")

		assert.Equal(t, string(StateCancelled), outcome.State)
		assert.Empty(t, runner.actions)
	})

	t.Run("cancel during the decision round trip discards the pending action", func(t *testing.T) {
		t.Parallel()
		runner := &scriptedRunner{}
		var loop *Loop
		decider := &scriptedDecider{
			responses: []schemas.NextStepResponse{
				actionResponse(schemas.Action{Type: schemas.ActionTypeClick, Description: "never runs"}),
			},
			onCall: func(call int) { loop.Cancel() },
		}
		loop, _ = newTestLoop(runner, decider, nil, testAgentConfig())

		outcome := loop.RunGoal(context.Background(), "anything")

		assert.Equal(t, string(StateCancelled), outcome.State)
		assert.Empty(t, runner.actions, "the pending action must not execute after cancellation")
		assert.Len(t, decider.requests, 1)
	})

	t.Run("user cancellation during execution ends the goal", func(t *testing.T) {
		t.Parallel()
		runner := &scriptedRunner{results: []schemas.StepResult{
			{Success: false, ErrorCode: schemas.ErrCodeUserCancelled, Error: "wait interrupted"},
		}}
		decider := &scriptedDecider{responses: []schemas.NextStepResponse{
			actionResponse(schemas.Action{Type: schemas.ActionTypeWait, DurationMs: 60000}),
		}}
		loop, _ := newTestLoop(runner, decider, nil, testAgentConfig())

		outcome := loop.RunGoal(context.Background(), "anything")

		assert.Equal(t, string(StateCancelled), outcome.State)
		assert.Equal(t, 1, outcome.Steps)
	})
}

func TestLoopPromptUser(t *testing.T) {
	t.Parallel()

	promptAction := actionResponse(schemas.Action{
		Type:        schemas.ActionTypePromptUser,
		Description: "2FA code field",
		Prompt:      "Enter your 2FA code",
	})

	t.Run("provided input annotates the action", func(t *testing.T) {
		t.Parallel()
		runner := &scriptedRunner{}
		decider := &scriptedDecider{responses: []schemas.NextStepResponse{
			promptAction,
			completedResponse("done"),
		}}
		prompter := &stubPrompter{value: "123456", provided: true}
		loop, _ := newTestLoop(runner, decider, prompter, testAgentConfig())

		outcome := loop.RunGoal(context.Background(), "log in with 2fa")

		assert.Equal(t, string(StateCompleted), outcome.State)
		assert.Equal(t, []string{"Enter your 2FA code"}, prompter.prompts)
		require.Len(t, runner.actions, 1)
		assert.Equal(t, "123456", runner.actions[0].UserProvidedValue)
	})

	t.Run("declined input cancels the goal", func(t *testing.T) {
		t.Parallel()
		runner := &scriptedRunner{}
		decider := &scriptedDecider{responses: []schemas.NextStepResponse{promptAction}}
		prompter := &stubPrompter{provided: false}
		loop, _ := newTestLoop(runner, decider, prompter, testAgentConfig())

		outcome := loop.RunGoal(context.Background(), "log in with 2fa")

		assert.Equal(t, string(StateCancelled), outcome.State)
		assert.Empty(t, runner.actions)
	})
}

func TestLoopPermissionEscape(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{results: []schemas.StepResult{
		{Success: false, ErrorCode: schemas.ErrCodePermissionDenied, Error: "restricted page"},
	}}
	decider := &scriptedDecider{responses: []schemas.NextStepResponse{
		actionResponse(schemas.Action{Type: schemas.ActionTypeClick, Description: "settings toggle"}),
		completedResponse("gave up on settings"),
	}}
	loop, pager := newTestLoop(runner, decider, nil, testAgentConfig())

	outcome := loop.RunGoal(context.Background(), "toggle a setting")

	assert.Equal(t, string(StateCompleted), outcome.State)
	assert.Equal(t, []string{"https://www.google.com"}, pager.navigations)
	require.Len(t, outcome.History, 2)
	assert.Contains(t, outcome.History[1], "restricted page by navigating")
}

type recordingNotifier struct {
	events []string
}

func (r *recordingNotifier) StepStarted(a schemas.Action) {
	r.events = append(r.events, "started "+string(a.Type))
}

func (r *recordingNotifier) StepFinished(res schemas.StepResult) {
	r.events = append(r.events, fmt.Sprintf("finished %s success=%t", res.Action.Type, res.Success))
}

func TestLoopNotifier(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{}
	decider := &scriptedDecider{responses: []schemas.NextStepResponse{
		actionResponse(schemas.Action{Type: schemas.ActionTypeClick, Description: "Login"}),
		completedResponse("done"),
	}}
	notifier := &recordingNotifier{}
	loop, _ := newTestLoop(runner, decider, nil, testAgentConfig())
	loop.SetNotifier(notifier)

	outcome := loop.RunGoal(context.Background(), "log in")

	assert.Equal(t, string(StateCompleted), outcome.State)
	assert.Equal(t, []string{
		"started click",
		"finished click success=true",
	}, notifier.events)
}

func TestLoopSkippedSteps(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{results: []schemas.StepResult{
		{Success: false, Skipped: true, ErrorCode: schemas.ErrCodeElementNotFound, Error: "no element"},
	}}
	decider := &scriptedDecider{responses: []schemas.NextStepResponse{
		actionResponse(schemas.Action{Type: schemas.ActionTypeClick, Description: "phantom"}),
		completedResponse("moved on"),
	}}
	loop, _ := newTestLoop(runner, decider, nil, testAgentConfig())

	outcome := loop.RunGoal(context.Background(), "click the phantom")

	assert.Equal(t, string(StateCompleted), outcome.State)
	require.Len(t, outcome.History, 1)
	assert.Contains(t, outcome.History[0], "skipped")
	// The skipped entry is visible to the next decision call.
	assert.Contains(t, decider.requests[1].History[0], "skipped")
}
