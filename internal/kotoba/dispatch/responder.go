package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/bdobrica/kotoba/internal/kotoba/conversation"
	"github.com/bdobrica/kotoba/internal/kotoba/intent"
)

// ResponseInput is everything a Responder may draw on.
type ResponseInput struct {
	Message string
	Intent  *intent.ParsedIntent
	Context *conversation.Context
	Actions []ActionResult
}

// Responder turns a context snapshot and action results into reply text.
type Responder interface {
	Respond(ctx context.Context, in ResponseInput) (string, error)
}

// defaultResponses are operator-facing canned replies keyed by intent type.
var defaultResponses = map[string]string{
	intent.TypeCreateProject:    `{{with .Project}}Setting up project {{.}}.{{else}}Let's set up a new project. What should it be called?{{end}}`,
	intent.TypeAnalyzeTension:   `Let's look at what is blocking {{with .Project}}{{.}}{{else}}you{{end}}.`,
	intent.TypeGetAgentHelp:     `{{with .Agent}}Finding a {{.}} agent for you.{{else}}Which kind of agent do you need?{{end}}`,
	intent.TypeCheckStatus:      `{{with .Project}}Checking the status of {{.}}.{{else}}Which project do you want a status update on?{{end}}`,
	intent.TypeGenerateSolution: `Working on possible solutions{{with .Project}} for {{.}}{{end}}.`,
	intent.TypeSearchKnowledge:  `Searching the knowledge base.`,
	intent.TypeClarify:          `Thanks, that helps.`,
}

const fallbackResponse = `I'm not sure I understood. Could you rephrase that?`

// TemplateResponder renders a text/template per intent type. Action results
// are appended one per line.
type TemplateResponder struct {
	templates map[string]*template.Template
	fallback  *template.Template
}

var _ Responder = (*TemplateResponder)(nil)

// NewTemplateResponder parses the given templates over the built-in ones.
// Nil or empty overrides keep the defaults.
func NewTemplateResponder(overrides map[string]string) (*TemplateResponder, error) {
	r := &TemplateResponder{templates: make(map[string]*template.Template)}
	merged := make(map[string]string, len(defaultResponses)+len(overrides))
	for k, v := range defaultResponses {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	for k, src := range merged {
		t, err := template.New(k).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("dispatch: response template %q: %w", k, err)
		}
		r.templates[k] = t
	}
	r.fallback = template.Must(template.New("fallback").Parse(fallbackResponse))
	return r, nil
}

type responseData struct {
	Project string
	Agent   string
	Topic   string
	Intent  string
}

// Respond implements Responder.
func (r *TemplateResponder) Respond(_ context.Context, in ResponseInput) (string, error) {
	data := responseData{}
	if in.Intent != nil {
		data.Intent = in.Intent.Type
		data.Project, _ = in.Intent.Entities.First(intent.EntityProjectName)
		data.Agent, _ = in.Intent.Entities.First(intent.EntityAgentType)
	}
	if in.Context != nil {
		data.Topic = in.Context.CurrentTopic
		// Fall back to what the session already knows.
		if data.Project == "" {
			data.Project = last(in.Context.Entities[intent.EntityProjectName])
		}
		if data.Agent == "" {
			data.Agent = last(in.Context.Entities[intent.EntityAgentType])
		}
	}

	tmpl := r.fallback
	waiting := in.Context != nil && in.Context.Status == conversation.StatusWaiting
	if in.Intent != nil && (!waiting || in.Intent.Type == intent.TypeClarify) {
		if t, ok := r.templates[in.Intent.Type]; ok {
			tmpl = t
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("dispatch: render response: %w", err)
	}
	for _, a := range in.Actions {
		switch {
		case a.Error != "":
			fmt.Fprintf(&buf, "\n- %s failed", a.Name)
		case a.Result != "":
			fmt.Fprintf(&buf, "\n- %s", a.Result)
		}
	}
	return buf.String(), nil
}

func last(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}
