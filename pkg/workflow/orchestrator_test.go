package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ollamagate/pkg/protocol"
	"github.com/kadirpekel/ollamagate/pkg/toolgen"
	"github.com/kadirpekel/ollamagate/pkg/tools"
)

type fakePlanner struct {
	phases []string
}

func (f *fakePlanner) GeneratePlan(_ context.Context, phase string, _ toolgen.ProjectContext) ([]tools.Spec, error) {
	f.phases = append(f.phases, phase)
	return []tools.Spec{{Name: tools.ToolCreateDirectory, Params: map[string]any{"path": "x"}}}, nil
}

type fakeExecutor struct {
	criticalFail bool
	calls        int
}

func (f *fakeExecutor) ExecutePhase(_ context.Context, specs []tools.Spec) ([]tools.Result, bool, error) {
	f.calls++
	results := make([]tools.Result, len(specs))
	for i, spec := range specs {
		results[i] = tools.Result{Name: spec.Name, Success: !f.criticalFail, Critical: spec.IsCritical()}
	}
	return results, f.criticalFail, nil
}

func newTestOrchestrator(exec *fakeExecutor) *Orchestrator {
	return New(&fakePlanner{}, exec)
}

// blockingPlanner parks inside GeneratePlan until released, so tests can
// observe a workflow mid-phase.
type blockingPlanner struct {
	entered chan struct{}
	release chan struct{}
	phases  []string
}

func newBlockingPlanner() *blockingPlanner {
	// entered is buffered so later phases can plan after release is closed
	// without a paired receive.
	return &blockingPlanner{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (p *blockingPlanner) GeneratePlan(_ context.Context, phase string, _ toolgen.ProjectContext) ([]tools.Spec, error) {
	p.phases = append(p.phases, phase)
	p.entered <- struct{}{}
	<-p.release
	return []tools.Spec{{Name: tools.ToolCreateDirectory, Params: map[string]any{"path": "x"}}}, nil
}

type executeResult struct {
	out *PhaseOutcome
	err error
}

func TestClassifyTemplate(t *testing.T) {
	tests := []struct {
		request string
		want    string
	}{
		{"build me a fullstack react app", TemplateFullstackReact},
		{"frontend dashboard with charts", TemplateFullstackReact},
		{"create a node express api", TemplateNodeJSAPI},
		{"simple backend server", TemplateNodeJSAPI},
		{"write a haiku generator in perl", TemplateCustom},
	}
	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyTemplate(tt.request))
		})
	}
}

func TestStartWorkflow(t *testing.T) {
	o := newTestOrchestrator(&fakeExecutor{})

	wf, err := o.Start("node api for todos", toolgen.ProjectContext{ProjectName: "todos"})
	require.NoError(t, err)
	assert.Equal(t, StatusReady, wf.Status)
	assert.Equal(t, TemplateNodeJSAPI, wf.TemplateID)
	assert.Len(t, wf.Phases, 3)
	assert.Contains(t, wf.ID, "workflow_")
	assert.Equal(t, 0, wf.CurrentPhase)
}

func TestStartRequiresRequest(t *testing.T) {
	o := newTestOrchestrator(&fakeExecutor{})
	_, err := o.Start("", toolgen.ProjectContext{})
	require.Error(t, err)
}

func TestExecuteThroughCompletion(t *testing.T) {
	exec := &fakeExecutor{}
	o := newTestOrchestrator(exec)
	wf, err := o.Start("node api", toolgen.ProjectContext{})
	require.NoError(t, err)

	ctx := context.Background()

	out, err := o.ExecuteNextPhase(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "phase_completed", out.Status)
	assert.Equal(t, "project_setup", out.Phase)
	assert.Equal(t, "api_development", out.NextPhase)

	out, err = o.ExecuteNextPhase(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "phase_completed", out.Status)

	out, err = o.ExecuteNextPhase(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "phase_completed", out.Status)
	assert.Equal(t, "testing", out.Phase)
	assert.Empty(t, out.NextPhase)
	assert.Equal(t, 100, out.Progress)

	got, err := o.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 3, exec.calls)

	// Executing a completed workflow reports completion without replanning.
	out, err = o.ExecuteNextPhase(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", out.Status)
	assert.Equal(t, 100, out.Progress)
	assert.NotZero(t, out.TotalMinutes)
	assert.Equal(t, 3, exec.calls)
}

func TestConcurrentExecuteRejectedMidPhase(t *testing.T) {
	planner := newBlockingPlanner()
	o := New(planner, &fakeExecutor{})
	wf, err := o.Start("node api", toolgen.ProjectContext{})
	require.NoError(t, err)

	done := make(chan executeResult, 1)
	go func() {
		out, err := o.ExecuteNextPhase(context.Background(), wf.ID)
		done <- executeResult{out, err}
	}()
	<-planner.entered

	// A second execute while the phase is running is rejected, not queued.
	_, err = o.ExecuteNextPhase(context.Background(), wf.ID)
	require.Error(t, err)
	assert.Equal(t, protocol.KindInvalidWorkflowState, protocol.KindOf(err))

	close(planner.release)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, "phase_completed", first.out.Status)

	got, err := o.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentPhase)
	assert.Equal(t, []string{"project_setup"}, got.CompletedPhases)
	assert.Len(t, planner.phases, 1, "the phase is planned exactly once")
}

func TestPauseDuringExecutionSticks(t *testing.T) {
	planner := newBlockingPlanner()
	o := New(planner, &fakeExecutor{})
	wf, err := o.Start("node api", toolgen.ProjectContext{})
	require.NoError(t, err)

	done := make(chan executeResult, 1)
	go func() {
		out, err := o.ExecuteNextPhase(context.Background(), wf.ID)
		done <- executeResult{out, err}
	}()
	<-planner.entered

	paused, err := o.Pause(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	close(planner.release)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, "phase_completed", first.out.Status)
	assert.Equal(t, "api_development", first.out.NextPhase)

	// The in-flight phase result is recorded, but the pause holds.
	got, err := o.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Equal(t, 1, got.CurrentPhase)
	assert.Equal(t, []string{"project_setup"}, got.CompletedPhases)

	_, err = o.ExecuteNextPhase(context.Background(), wf.ID)
	require.Error(t, err)

	_, err = o.Resume(wf.ID)
	require.NoError(t, err)
	out, err := o.ExecuteNextPhase(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "phase_completed", out.Status)
	assert.Equal(t, "api_development", out.Phase)
}

func TestCriticalFailureFailsWorkflow(t *testing.T) {
	o := newTestOrchestrator(&fakeExecutor{criticalFail: true})
	wf, _ := o.Start("node api", toolgen.ProjectContext{})

	out, err := o.ExecuteNextPhase(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "phase_failed", out.Status)

	got, err := o.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.FailedPhases, "project_setup")
	// Failed workflows stay addressable.
	assert.NotNil(t, got.FinishedAt)
}

func TestPauseResumeCancel(t *testing.T) {
	o := newTestOrchestrator(&fakeExecutor{})
	wf, _ := o.Start("node api", toolgen.ProjectContext{})

	paused, err := o.Pause(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	// Paused workflows cannot execute.
	_, err = o.ExecuteNextPhase(context.Background(), wf.ID)
	require.Error(t, err)

	// Double pause rejected.
	_, err = o.Pause(wf.ID)
	require.Error(t, err)

	resumed, err := o.Resume(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, resumed.Status)

	cancelled, err := o.Cancel(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = o.Cancel(wf.ID)
	require.Error(t, err)
	_, err = o.Resume(wf.ID)
	require.Error(t, err)
}

func TestUnknownWorkflow(t *testing.T) {
	o := newTestOrchestrator(&fakeExecutor{})
	_, err := o.Get("workflow_nope")
	require.Error(t, err)
	_, err = o.ExecuteNextPhase(context.Background(), "workflow_nope")
	require.Error(t, err)
}

func TestCleanupRemovesOldTerminalWorkflows(t *testing.T) {
	o := newTestOrchestrator(&fakeExecutor{})
	now := time.Now()
	o.nowFn = func() time.Time { return now }

	wf, _ := o.Start("node api", toolgen.ProjectContext{})
	_, err := o.Cancel(wf.ID)
	require.NoError(t, err)

	// Inside retention: kept.
	assert.Equal(t, 0, o.Cleanup())

	o.nowFn = func() time.Time { return now.Add(25 * time.Hour) }
	assert.Equal(t, 1, o.Cleanup())

	_, err = o.Get(wf.ID)
	require.Error(t, err)
}

func TestFullstackPhaseGraph(t *testing.T) {
	tpl := templateFor(TemplateFullstackReact, "")
	require.Len(t, tpl.Phases, 5)
	byName := map[string]Phase{}
	for _, phase := range tpl.Phases {
		byName[phase.Name] = phase
	}
	assert.Empty(t, byName["project_setup"].Dependencies)
	assert.Equal(t, []string{"project_setup"}, byName["backend_development"].Dependencies)
	assert.Equal(t, []string{"project_setup"}, byName["frontend_development"].Dependencies)
	assert.ElementsMatch(t, []string{"backend_development", "frontend_development"}, byName["testing_setup"].Dependencies)

	// Deep copy: mutating the returned template must not touch the shared one.
	tpl.Phases[0].Dependencies = append(tpl.Phases[0].Dependencies, "mutated")
	again := templateFor(TemplateFullstackReact, "")
	assert.Empty(t, again.Phases[0].Dependencies)
}
