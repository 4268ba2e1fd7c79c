// Package unified implements the single-prompt endpoint that decides
// between chatting, planning, and tool execution. An auxiliary backend
// call classifies the intent; complex execution plans are returned for
// approval, never run inline.
package unified

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kadirpekel/ollamagate/pkg/logger"
	"github.com/kadirpekel/ollamagate/pkg/protocol"
	"github.com/kadirpekel/ollamagate/pkg/toolgen"
	"github.com/kadirpekel/ollamagate/pkg/tools"
)

// Response types.
const (
	TypeSimpleChat    = "simple_chat"
	TypePlanningTask  = "planning_task"
	TypeExecutionTask = "execution_task"
)

// Action types from the intent classification.
const (
	ActionChat             = "chat"
	ActionPlanning         = "planning"
	ActionExecutionSimple  = "execution_simple"
	ActionExecutionComplex = "execution_complex"
)

// Backend is the slice of the Ollama client this package needs.
type Backend interface {
	Generate(ctx context.Context, payload any) (json.RawMessage, error)
}

// Planner produces tool plans for execution intents.
type Planner interface {
	GeneratePlan(ctx context.Context, phase string, pctx toolgen.ProjectContext) ([]tools.Spec, error)
}

// Intent is the auxiliary classification result.
type Intent struct {
	Intent           string  `json:"intent"`
	Confidence       float64 `json:"confidence"`
	Complexity       string  `json:"complexity"`
	Approach         string  `json:"approach"`
	RequiresApproval bool    `json:"requiresApproval"`
	ActionType       string  `json:"actionType"`
}

// Response is the unified endpoint's answer, one of four shapes.
type Response struct {
	Type             string       `json:"type"`
	Message          string       `json:"message"`
	Plan             string       `json:"plan,omitempty"`
	Tools            []tools.Spec `json:"tools,omitempty"`
	RequiresApproval *bool        `json:"requiresApproval,omitempty"`
}

// Plan is the /api/plan/enhanced body.
type Plan struct {
	Description string                 `json:"description"`
	Tools       []tools.Spec           `json:"tools"`
	Context     toolgen.ProjectContext `json:"context"`
}

// Service dispatches unified requests.
type Service struct {
	backend Backend
	planner Planner
	model   string
	logger  *slog.Logger
}

// New creates a unified service planning with the given model.
func New(backend Backend, planner Planner, model string) *Service {
	return &Service{
		backend: backend,
		planner: planner,
		model:   model,
		logger:  logger.GetLogger(),
	}
}

// Handle classifies the prompt's intent and produces the matching response
// shape.
func (s *Service) Handle(ctx context.Context, prompt string, pctx toolgen.ProjectContext) (*Response, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, protocol.Errorf(protocol.KindBadRequest, "prompt is required")
	}

	intent := s.classifyIntent(ctx, prompt)
	s.logger.Debug("unified intent", "actionType", intent.ActionType, "confidence", intent.Confidence)

	switch intent.ActionType {
	case ActionPlanning:
		return s.planningResponse(ctx, prompt)
	case ActionExecutionSimple:
		return s.executionResponse(ctx, prompt, pctx, false)
	case ActionExecutionComplex:
		return s.executionResponse(ctx, prompt, pctx, true)
	default:
		return s.chatResponse(ctx, prompt)
	}
}

// EnhancedPlan builds a standalone tool plan without executing it.
func (s *Service) EnhancedPlan(ctx context.Context, prompt string, pctx toolgen.ProjectContext) (*Plan, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, protocol.Errorf(protocol.KindBadRequest, "prompt is required")
	}
	specs, err := s.planner.GeneratePlan(ctx, prompt, pctx)
	if err != nil {
		return nil, err
	}
	return &Plan{Description: prompt, Tools: specs, Context: pctx}, nil
}

// classifyIntent asks the backend to categorize the prompt, degrading to a
// keyword heuristic when the model's answer is unusable.
func (s *Service) classifyIntent(ctx context.Context, prompt string) Intent {
	payload := map[string]any{
		"model":  s.model,
		"prompt": intentPrompt(prompt),
		"stream": false,
	}
	raw, err := s.backend.Generate(ctx, payload)
	if err != nil {
		s.logger.Warn("intent classification call failed, using heuristic", "error", err)
		return heuristicIntent(prompt)
	}

	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Response == "" {
		return heuristicIntent(prompt)
	}
	intent, ok := parseIntent(envelope.Response)
	if !ok {
		return heuristicIntent(prompt)
	}
	return intent
}

func (s *Service) chatResponse(ctx context.Context, prompt string) (*Response, error) {
	message, err := s.generateText(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &Response{Type: TypeSimpleChat, Message: message}, nil
}

func (s *Service) planningResponse(ctx context.Context, prompt string) (*Response, error) {
	plan, err := s.generateText(ctx, "Produce a step-by-step plan, without executing anything, for: "+prompt)
	if err != nil {
		return nil, err
	}
	return &Response{
		Type:    TypePlanningTask,
		Message: "Here is a plan for your request.",
		Plan:    plan,
	}, nil
}

func (s *Service) executionResponse(ctx context.Context, prompt string, pctx toolgen.ProjectContext, requiresApproval bool) (*Response, error) {
	specs, err := s.planner.GeneratePlan(ctx, prompt, pctx)
	if err != nil {
		return nil, err
	}
	message := fmt.Sprintf("Prepared %d tool calls.", len(specs))
	if requiresApproval {
		message += " Approval is required before execution."
	}
	return &Response{
		Type:             TypeExecutionTask,
		Message:          message,
		Tools:            specs,
		RequiresApproval: &requiresApproval,
	}, nil
}

func (s *Service) generateText(ctx context.Context, prompt string) (string, error) {
	raw, err := s.backend.Generate(ctx, map[string]any{
		"model":  s.model,
		"prompt": prompt,
		"stream": false,
	})
	if err != nil {
		return "", err
	}
	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", protocol.NewError(protocol.KindUpstreamFailure, "unreadable daemon response", err)
	}
	return envelope.Response, nil
}

func intentPrompt(prompt string) string {
	return `Classify the user request below. Respond with only a JSON object:
{"intent": "...", "confidence": 0.0-1.0, "complexity": "low|medium|high", "approach": "...", "requiresApproval": true|false, "actionType": "chat|planning|execution_simple|execution_complex"}

Request: ` + prompt
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

func parseIntent(text string) (Intent, bool) {
	match := jsonObject.FindString(text)
	if match == "" {
		return Intent{}, false
	}
	var intent Intent
	if err := json.Unmarshal([]byte(match), &intent); err != nil {
		return Intent{}, false
	}
	switch intent.ActionType {
	case ActionChat, ActionPlanning, ActionExecutionSimple, ActionExecutionComplex:
		return intent, true
	}
	return Intent{}, false
}

// heuristicIntent is the deterministic fallback classification.
func heuristicIntent(prompt string) Intent {
	lower := strings.ToLower(prompt)
	executes := containsAny(lower, "create", "build", "make", "set up", "setup", "scaffold", "generate a project", "install")
	plans := containsAny(lower, "plan", "how would", "how should", "design", "outline", "architecture", "approach")
	big := containsAny(lower, "fullstack", "full-stack", "full stack", "application", "entire", "complete", "end to end")

	switch {
	case executes && big:
		return Intent{Intent: "execution", Complexity: "high", RequiresApproval: true, ActionType: ActionExecutionComplex, Confidence: 0.5}
	case executes:
		return Intent{Intent: "execution", Complexity: "medium", ActionType: ActionExecutionSimple, Confidence: 0.5}
	case plans:
		return Intent{Intent: "planning", Complexity: "medium", ActionType: ActionPlanning, Confidence: 0.5}
	default:
		return Intent{Intent: "chat", Complexity: "low", ActionType: ActionChat, Confidence: 0.5}
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
