package gateway

import (
	"github.com/alaotach/foxxy-ai/api/schemas"
)

// Request actions accepted over the control channel.
const (
	ActionExecuteStep     = "executeStep"
	ActionGetPageInfo     = "getPageInfo"
	ActionStartAutomation = "startAutomation"
	ActionStopAutomation  = "stopAutomation"
	ActionRunGoal         = "runGoal"
	ActionCancel          = "cancel"
	ActionPromptReply     = "promptReply"
)

// Event names carried on outbound frames. Frames answering a request echo
// its id; broadcast frames carry no id.
const (
	EventAck          = "ack"
	EventStepResult   = "step_result"
	EventStepStart    = "step_start"
	EventStepComplete = "step_complete"
	EventPageInfo     = "page_info"
	EventTaskComplete = "task_complete"
	EventPrompt       = "prompt"
	EventState        = "state"
	EventError        = "error"
)

// Request is one inbound control frame.
type Request struct {
	ID       string          `json:"id,omitempty"`
	Action   string          `json:"action"`
	Step     *schemas.Action `json:"step,omitempty"`
	Goal     string          `json:"goal,omitempty"`
	Value    string          `json:"value,omitempty"`
	Declined bool            `json:"declined,omitempty"`
}

// PagePayload is the getPageInfo reply body.
type PagePayload struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Response is one outbound frame, either a reply or a broadcast event.
type Response struct {
	ID      string               `json:"id,omitempty"`
	Event   string               `json:"event"`
	OK      bool                 `json:"ok"`
	Error   string               `json:"error,omitempty"`
	Step    *schemas.Action      `json:"step,omitempty"`
	Result  *schemas.StepResult  `json:"result,omitempty"`
	Page    *PagePayload         `json:"page,omitempty"`
	Outcome *schemas.GoalOutcome `json:"outcome,omitempty"`
	Prompt  string               `json:"prompt,omitempty"`
	State   string               `json:"state,omitempty"`
}
