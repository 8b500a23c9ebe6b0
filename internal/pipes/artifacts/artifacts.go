// Package artifacts wraps first-turn prompts in a rendering template that
// asks for mermaid or SVG output.
//
// Applies only when the server flag is on and the caller sets need_artifacts,
// and only on the turn that created the conversation.
package artifacts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/pipes"
)

//go:embed artifacts.tmpl
var defaultTemplate string

// Pipe is the artifact-rendering pipe.
type Pipe struct {
	enabled bool
	tmpl    *template.Template
}

// New creates the pipe. A configured template path overrides the embedded one.
func New(cfg config.ArtifactsConfig) (*Pipe, error) {
	text := defaultTemplate
	if cfg.TemplatePath != "" {
		data, err := os.ReadFile(cfg.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("artifacts: read template: %w", err)
		}
		text = string(data)
	}

	t, err := template.New("artifacts").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("artifacts: parse template: %w", err)
	}
	return &Pipe{enabled: cfg.Enabled, tmpl: t}, nil
}

// Name returns the pipe name.
func (p *Pipe) Name() string { return "artifacts" }

// Enabled returns the server-side feature flag.
func (p *Pipe) Enabled() bool { return p.enabled }

// Process implements pipes.Pipe.
func (p *Pipe) Process(ctx *pipes.PipeContext) (string, error) {
	if !ctx.FirstTurn || !ctx.NeedArtifacts {
		return ctx.Message, nil
	}
	return p.Render(ctx.Message)
}

// Render applies the template to prompt.
func (p *Pipe) Render(prompt string) (string, error) {
	var b strings.Builder
	if err := p.tmpl.Execute(&b, struct{ Prompt string }{prompt}); err != nil {
		return prompt, fmt.Errorf("artifacts: render: %w", err)
	}
	return b.String(), nil
}

var _ pipes.Pipe = (*Pipe)(nil)
