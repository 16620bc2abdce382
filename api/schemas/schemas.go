package schemas

import (
	"fmt"
	"strings"
	"time"
)

// ActionType identifies one kind of browser action the decision service can
// request. The wire values match the decision service contract exactly.
type ActionType string

const (
	ActionTypeNavigate      ActionType = "navigate"
	ActionTypeClick         ActionType = "click"
	ActionTypeRightClick    ActionType = "right_click"
	ActionTypeText          ActionType = "type"
	ActionTypeScroll        ActionType = "scroll"
	ActionTypeWait          ActionType = "wait"
	ActionTypeExtractText   ActionType = "extract_text"
	ActionTypeScreenshot    ActionType = "screenshot"
	ActionTypeDownloadImage ActionType = "download_image"
	ActionTypePromptUser    ActionType = "prompt_user"
)

// Action is one instruction issued by the decision service. It is immutable
// once received; the only field the loop may fill in afterwards is
// UserProvidedValue, and only for prompt_user actions.
type Action struct {
	Type        ActionType `json:"type"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url,omitempty"`
	Text        string     `json:"text,omitempty"`
	// X and Y are literal viewport coordinates supplied directly by the
	// decision service, bypassing resolution. Nil means "resolve by
	// description".
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	// Amount is a signed pixel delta for scroll actions. Negative scrolls up.
	Amount float64 `json:"amount,omitempty"`
	// DurationMs is the delay for wait actions. Zero returns immediately.
	DurationMs int `json:"duration_ms,omitempty"`
	// Prompt is the question shown to the user for prompt_user actions.
	Prompt            string `json:"prompt,omitempty"`
	UserProvidedValue string `json:"user_provided_value,omitempty"`
}

// Fingerprint keys the retry ledger. Two actions with the same type and the
// same description (or URL, for navigation) count against the same budget.
func (a Action) Fingerprint() string {
	target := a.Description
	if target == "" {
		target = a.URL
	}
	return fmt.Sprintf("%s:%s", a.Type, strings.ToLower(strings.TrimSpace(target)))
}

// BoundingBox is an element's rendered rectangle in viewport coordinates.
type BoundingBox struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
}

// ElementCandidate describes one interactive element found by the snapshotter.
// Candidates are recomputed on every snapshot and never persisted.
type ElementCandidate struct {
	Tag             string      `json:"tag"`
	Role            string      `json:"role,omitempty"`
	Text            string      `json:"text,omitempty"`
	AriaLabel       string      `json:"aria_label,omitempty"`
	Placeholder     string      `json:"placeholder,omitempty"`
	BoundingBox     BoundingBox `json:"bounding_box"`
	IsInput         bool        `json:"is_input"`
	ContentEditable bool        `json:"content_editable"`
	Score           float64     `json:"score,omitempty"`
}

// Viewport carries the page identity and dimensions sent to the decision
// service alongside each screenshot.
type Viewport struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
}

// PageSnapshot is the structured page description for one loop iteration.
// It is owned by that iteration and superseded by the next.
type PageSnapshot struct {
	Viewport Viewport           `json:"viewport"`
	Elements []ElementCandidate `json:"elements"`
	TakenAt  time.Time          `json:"taken_at"`
}

// ResolutionMethod records which strategy produced a coordinate.
type ResolutionMethod string

const (
	MethodVision    ResolutionMethod = "vision"
	MethodDOM       ResolutionMethod = "dom"
	MethodHeuristic ResolutionMethod = "heuristic"
	MethodLiteral   ResolutionMethod = "literal"
)

// ResolutionResult is the single-use outcome of locating an element on
// screen. Confidence is informational; it never gates execution.
type ResolutionResult struct {
	Success     bool             `json:"success"`
	X           float64          `json:"x,omitempty"`
	Y           float64          `json:"y,omitempty"`
	Method      ResolutionMethod `json:"method,omitempty"`
	Confidence  float64          `json:"confidence,omitempty"`
	ElementInfo string           `json:"element_info,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// StepResult reports the outcome of executing one action.
type StepResult struct {
	StepID       string    `json:"step_id"`
	Action       Action    `json:"action"`
	Success      bool      `json:"success"`
	Skipped      bool      `json:"skipped,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Observations string    `json:"observations,omitempty"`
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Summary renders the single-line history entry carried across iterations.
func (r StepResult) Summary() string {
	target := r.Action.Description
	if target == "" {
		target = r.Action.URL
	}
	switch {
	case r.Skipped:
		return fmt.Sprintf("Step %s: skipped %s %q after retry budget (%s)", r.StepID, r.Action.Type, target, r.Error)
	case r.Success:
		if r.Observations != "" {
			return fmt.Sprintf("Step %s: %s %q succeeded (%s)", r.StepID, r.Action.Type, target, r.Observations)
		}
		return fmt.Sprintf("Step %s: %s %q succeeded", r.StepID, r.Action.Type, target)
	default:
		return fmt.Sprintf("Step %s: %s %q failed (%s)", r.StepID, r.Action.Type, target, r.Error)
	}
}

// NextStepRequest is the payload for POST /agent/next_step.
type NextStepRequest struct {
	Goal       string   `json:"goal"`
	Screenshot string   `json:"screenshot"`
	Viewport   Viewport `json:"viewport"`
	History    []string `json:"history"`
}

// NextStepResponse is the decision service's reply. Completed and NextAction
// are mutually exclusive in practice; Completed wins when both are set.
type NextStepResponse struct {
	Reasoning    string  `json:"reasoning,omitempty"`
	Completed    bool    `json:"completed"`
	FinalMessage string  `json:"final_message,omitempty"`
	NextAction   *Action `json:"next_action,omitempty"`
}

// FindElementRequest is the payload for POST /vision/find_element.
type FindElementRequest struct {
	Screenshot     string             `json:"screenshot"`
	Description    string             `json:"description"`
	ViewportWidth  int64              `json:"viewport_width"`
	ViewportHeight int64              `json:"viewport_height"`
	DOMSnapshot    []ElementCandidate `json:"dom_snapshot"`
}

// FindElementResponse mirrors the resolution service's reply.
type FindElementResponse struct {
	Success     bool             `json:"success"`
	X           float64          `json:"x,omitempty"`
	Y           float64          `json:"y,omitempty"`
	Method      ResolutionMethod `json:"method,omitempty"`
	Confidence  float64          `json:"confidence,omitempty"`
	ElementInfo string           `json:"element_info,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// GoalOutcome is the terminal state of one goal execution, reported exactly
// once to the caller.
type GoalOutcome struct {
	State        string    `json:"state"`
	FinalMessage string    `json:"final_message,omitempty"`
	Steps        int       `json:"steps"`
	History      []string  `json:"history"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
