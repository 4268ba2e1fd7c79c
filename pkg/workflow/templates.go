package workflow

import "strings"

// Phase is one step of a workflow. Dependencies name other phases in the
// same workflow that must complete first.
type Phase struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	EstimatedMinutes int      `json:"estimatedMinutes"`
	Dependencies     []string `json:"dependencies,omitempty"`
}

// Template is a reusable phase graph.
type Template struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Phases []Phase `json:"phases"`
}

const (
	TemplateFullstackReact = "fullstack_react"
	TemplateNodeJSAPI      = "nodejs_api"
	TemplateCustom         = "custom"
)

// templates holds the built-in phase graphs. backend_development and
// frontend_development share only the setup dependency and may run
// concurrently if the caller schedules them that way.
var templates = map[string]Template{
	TemplateFullstackReact: {
		ID:   TemplateFullstackReact,
		Name: "Full-stack React application",
		Phases: []Phase{
			{Name: "project_setup", Description: "Scaffold project structure and tooling", EstimatedMinutes: 10},
			{Name: "backend_development", Description: "Build the API server", EstimatedMinutes: 30, Dependencies: []string{"project_setup"}},
			{Name: "frontend_development", Description: "Build the React client", EstimatedMinutes: 30, Dependencies: []string{"project_setup"}},
			{Name: "testing_setup", Description: "Configure tests for both tiers", EstimatedMinutes: 15, Dependencies: []string{"backend_development", "frontend_development"}},
			{Name: "deployment_prep", Description: "Build scripts and deployment config", EstimatedMinutes: 10, Dependencies: []string{"testing_setup"}},
		},
	},
	TemplateNodeJSAPI: {
		ID:   TemplateNodeJSAPI,
		Name: "Node.js API service",
		Phases: []Phase{
			{Name: "project_setup", Description: "Scaffold project structure", EstimatedMinutes: 5},
			{Name: "api_development", Description: "Implement endpoints and middleware", EstimatedMinutes: 25, Dependencies: []string{"project_setup"}},
			{Name: "testing", Description: "Add test coverage", EstimatedMinutes: 10, Dependencies: []string{"api_development"}},
		},
	},
}

// classifyTemplate picks a template id from the user request. Requests
// that match no built-in get a synthesized single-track custom template.
func classifyTemplate(request string) string {
	lower := strings.ToLower(request)
	hasReact := strings.Contains(lower, "react") || strings.Contains(lower, "frontend") || strings.Contains(lower, "fullstack") || strings.Contains(lower, "full-stack") || strings.Contains(lower, "full stack")
	hasAPI := strings.Contains(lower, "api") || strings.Contains(lower, "server") || strings.Contains(lower, "backend") || strings.Contains(lower, "express") || strings.Contains(lower, "node")

	switch {
	case hasReact:
		return TemplateFullstackReact
	case hasAPI:
		return TemplateNodeJSAPI
	default:
		return TemplateCustom
	}
}

// templateFor returns a deep copy of the template so per-workflow
// adjustments never leak back into the shared definitions.
func templateFor(id, request string) Template {
	tpl, ok := templates[id]
	if !ok {
		return customTemplate(request)
	}
	copied := Template{ID: tpl.ID, Name: tpl.Name, Phases: make([]Phase, len(tpl.Phases))}
	for i, phase := range tpl.Phases {
		copied.Phases[i] = phase
		copied.Phases[i].Dependencies = append([]string(nil), phase.Dependencies...)
	}
	return copied
}

// customTemplate synthesizes a minimal linear plan for requests that fit
// no built-in template.
func customTemplate(request string) Template {
	return Template{
		ID:   TemplateCustom,
		Name: "Custom workflow",
		Phases: []Phase{
			{Name: "project_setup", Description: "Scaffold for: " + request, EstimatedMinutes: 10},
			{Name: "implementation", Description: "Implement: " + request, EstimatedMinutes: 30, Dependencies: []string{"project_setup"}},
			{Name: "verification", Description: "Verify the result", EstimatedMinutes: 10, Dependencies: []string{"implementation"}},
		},
	}
}
