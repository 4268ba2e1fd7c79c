// Package workflow drives multi-phase project builds through a state
// machine. Each phase is planned by the tool generator and executed by the
// tool engine; workflows survive phase failures and stay addressable for
// inspection until the cleanup sweeper retires them.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/ollamagate/pkg/logger"
	"github.com/kadirpekel/ollamagate/pkg/protocol"
	"github.com/kadirpekel/ollamagate/pkg/toolgen"
	"github.com/kadirpekel/ollamagate/pkg/tools"
)

// Status is a workflow lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusExecuting    Status = "executing"
	StatusPaused       Status = "paused"
	StatusFailed       Status = "failed"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// terminalRetention is how long a finished workflow stays queryable.
const terminalRetention = 24 * time.Hour

// cleanupInterval is the sweeper cadence.
const cleanupInterval = time.Hour

// Workflow is one active or retained workflow instance.
type Workflow struct {
	ID              string                 `json:"id"`
	TemplateID      string                 `json:"templateId"`
	Request         string                 `json:"request"`
	Status          Status                 `json:"status"`
	Phases          []Phase                `json:"phases"`
	CurrentPhase    int                    `json:"currentPhase"`
	CompletedPhases []string               `json:"completedPhases"`
	FailedPhases    []string               `json:"failedPhases,omitempty"`
	ProjectContext  toolgen.ProjectContext `json:"projectContext"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
	FinishedAt      *time.Time             `json:"finishedAt,omitempty"`
}

// PhaseOutcome is the result of one executeNextPhase call.
type PhaseOutcome struct {
	Status       string         `json:"status"`
	Phase        string         `json:"phase,omitempty"`
	NextPhase    string         `json:"nextPhase,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Results      []tools.Result `json:"results,omitempty"`
	Progress     int            `json:"progress"`
	TotalMinutes int            `json:"totalMinutes,omitempty"`
}

// Planner produces a tool plan for a phase.
type Planner interface {
	GeneratePlan(ctx context.Context, phase string, pctx toolgen.ProjectContext) ([]tools.Spec, error)
}

// Executor runs a planned batch of tools.
type Executor interface {
	ExecutePhase(ctx context.Context, specs []tools.Spec) ([]tools.Result, bool, error)
}

// Orchestrator owns the active workflow set.
type Orchestrator struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
	planner   Planner
	executor  Executor
	logger    *slog.Logger
	nowFn     func() time.Time
}

// New creates an orchestrator wired to a planner and executor.
func New(planner Planner, executor Executor) *Orchestrator {
	return &Orchestrator{
		workflows: make(map[string]*Workflow),
		planner:   planner,
		executor:  executor,
		logger:    logger.GetLogger(),
		nowFn:     time.Now,
	}
}

// Start classifies the request into a template and registers a new
// workflow in the ready state.
func (o *Orchestrator) Start(userRequest string, pctx toolgen.ProjectContext) (*Workflow, error) {
	if userRequest == "" {
		return nil, protocol.Errorf(protocol.KindBadRequest, "userRequest is required")
	}

	templateID := classifyTemplate(userRequest)
	tpl := templateFor(templateID, userRequest)
	now := o.now()

	wf := &Workflow{
		ID:              newWorkflowID(now),
		TemplateID:      tpl.ID,
		Request:         userRequest,
		Status:          StatusReady,
		Phases:          tpl.Phases,
		CompletedPhases: []string{},
		ProjectContext:  pctx,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	o.mu.Lock()
	o.workflows[wf.ID] = wf
	o.mu.Unlock()

	o.logger.Info("workflow started", "id", wf.ID, "template", tpl.ID)
	return snapshot(wf), nil
}

// ExecuteNextPhase advances the workflow by one phase. Failed critical
// tools fail the workflow; unmet phase dependencies yield a waiting
// outcome without advancing.
func (o *Orchestrator) ExecuteNextPhase(ctx context.Context, id string) (*PhaseOutcome, error) {
	o.mu.Lock()
	wf, ok := o.workflows[id]
	if !ok {
		o.mu.Unlock()
		return nil, notFound(id)
	}
	if wf.Status == StatusCompleted {
		outcome := &PhaseOutcome{Status: "completed", Progress: 100, TotalMinutes: totalMinutes(wf)}
		o.mu.Unlock()
		return outcome, nil
	}
	if wf.Status.IsTerminal() || wf.Status == StatusPaused || wf.Status == StatusExecuting {
		o.mu.Unlock()
		return nil, invalidState(id, wf.Status, "execute")
	}

	phase := wf.Phases[wf.CurrentPhase]
	if unmet := unmetPhaseDeps(wf, phase); len(unmet) > 0 {
		outcome := &PhaseOutcome{Status: "waiting", Phase: phase.Name, Dependencies: unmet}
		o.mu.Unlock()
		return outcome, nil
	}

	wf.Status = StatusExecuting
	wf.UpdatedAt = o.now()
	pctx := wf.ProjectContext
	o.mu.Unlock()

	// Plan and execute outside the lock; these involve backend calls and
	// filesystem work.
	specs, err := o.planner.GeneratePlan(ctx, phase.Description, pctx)
	if err != nil {
		o.recordPhaseFailure(wf, phase.Name)
		return nil, err
	}
	results, criticalFailed, err := o.executor.ExecutePhase(ctx, specs)
	if err != nil {
		o.recordPhaseFailure(wf, phase.Name)
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if wf.Status == StatusCancelled {
		return &PhaseOutcome{Status: "cancelled", Phase: phase.Name}, nil
	}

	if criticalFailed {
		wf.FailedPhases = append(wf.FailedPhases, phase.Name)
		o.finish(wf, StatusFailed)
		o.logger.Warn("workflow phase failed", "id", id, "phase", phase.Name)
		return &PhaseOutcome{Status: "phase_failed", Phase: phase.Name, Results: results}, nil
	}

	// A pause issued while the phase was running sticks once the phase
	// result is recorded.
	paused := wf.Status == StatusPaused

	wf.CompletedPhases = append(wf.CompletedPhases, phase.Name)
	wf.CurrentPhase++
	wf.UpdatedAt = o.now()

	outcome := &PhaseOutcome{
		Status:   "phase_completed",
		Phase:    phase.Name,
		Results:  results,
		Progress: progress(wf),
	}
	switch {
	case wf.CurrentPhase >= len(wf.Phases):
		o.finish(wf, StatusCompleted)
	case paused:
		outcome.NextPhase = wf.Phases[wf.CurrentPhase].Name
	default:
		wf.Status = StatusReady
		outcome.NextPhase = wf.Phases[wf.CurrentPhase].Name
	}
	return outcome, nil
}

// Get returns a copy of the workflow.
func (o *Orchestrator) Get(id string) (*Workflow, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	wf, ok := o.workflows[id]
	if !ok {
		return nil, notFound(id)
	}
	return snapshot(wf), nil
}

// List returns copies of every known workflow.
func (o *Orchestrator) List() []*Workflow {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Workflow, 0, len(o.workflows))
	for _, wf := range o.workflows {
		out = append(out, snapshot(wf))
	}
	return out
}

// Pause suspends a ready or executing workflow.
func (o *Orchestrator) Pause(id string) (*Workflow, error) {
	return o.transition(id, StatusPaused, StatusReady, StatusExecuting)
}

// Resume returns a paused workflow to ready.
func (o *Orchestrator) Resume(id string) (*Workflow, error) {
	return o.transition(id, StatusReady, StatusPaused)
}

// Cancel terminates any non-terminal workflow.
func (o *Orchestrator) Cancel(id string) (*Workflow, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	wf, ok := o.workflows[id]
	if !ok {
		return nil, notFound(id)
	}
	if wf.Status.IsTerminal() {
		return nil, invalidState(id, wf.Status, "cancel")
	}
	o.finish(wf, StatusCancelled)
	return snapshot(wf), nil
}

// Cleanup removes workflows that reached a terminal state more than the
// retention period ago. Returns the number removed.
func (o *Orchestrator) Cleanup() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	removed := 0
	for id, wf := range o.workflows {
		if wf.FinishedAt != nil && now.Sub(*wf.FinishedAt) > terminalRetention {
			delete(o.workflows, id)
			removed++
		}
	}
	if removed > 0 {
		o.logger.Info("workflow cleanup", "removed", removed)
	}
	return removed
}

// Run sweeps terminal workflows on a fixed cadence until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Cleanup()
		}
	}
}

func (o *Orchestrator) transition(id string, to Status, from ...Status) (*Workflow, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	wf, ok := o.workflows[id]
	if !ok {
		return nil, notFound(id)
	}
	for _, src := range from {
		if wf.Status == src {
			wf.Status = to
			wf.UpdatedAt = o.now()
			return snapshot(wf), nil
		}
	}
	return nil, invalidState(id, wf.Status, string(to))
}

func (o *Orchestrator) recordPhaseFailure(wf *Workflow, phase string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wf.Status.IsTerminal() {
		return
	}
	wf.FailedPhases = append(wf.FailedPhases, phase)
	o.finish(wf, StatusFailed)
}

// finish moves a workflow to a terminal state. Caller holds the lock.
func (o *Orchestrator) finish(wf *Workflow, status Status) {
	now := o.now()
	wf.Status = status
	wf.UpdatedAt = now
	wf.FinishedAt = &now
}

func (o *Orchestrator) now() time.Time {
	if o.nowFn != nil {
		return o.nowFn()
	}
	return time.Now()
}

func unmetPhaseDeps(wf *Workflow, phase Phase) []string {
	done := make(map[string]bool, len(wf.CompletedPhases))
	for _, name := range wf.CompletedPhases {
		done[name] = true
	}
	var unmet []string
	for _, dep := range phase.Dependencies {
		if !done[dep] {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

func progress(wf *Workflow) int {
	if len(wf.Phases) == 0 {
		return 100
	}
	return wf.CurrentPhase * 100 / len(wf.Phases)
}

func totalMinutes(wf *Workflow) int {
	total := 0
	for _, phase := range wf.Phases {
		total += phase.EstimatedMinutes
	}
	return total
}

func snapshot(wf *Workflow) *Workflow {
	copied := *wf
	copied.Phases = append([]Phase(nil), wf.Phases...)
	copied.CompletedPhases = append([]string(nil), wf.CompletedPhases...)
	copied.FailedPhases = append([]string(nil), wf.FailedPhases...)
	if wf.FinishedAt != nil {
		at := *wf.FinishedAt
		copied.FinishedAt = &at
	}
	return &copied
}

func newWorkflowID(now time.Time) string {
	return fmt.Sprintf("workflow_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

func notFound(id string) error {
	return protocol.Errorf(protocol.KindWorkflowNotFound, "workflow %s not found", id)
}

func invalidState(id string, status Status, op string) error {
	return protocol.Errorf(protocol.KindInvalidWorkflowState, "cannot %s workflow %s in state %s", op, id, status)
}
