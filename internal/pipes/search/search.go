// Package search augments prompts with web search results.
//
// DESIGN: The pipe asks a Searcher for results, renders a prompt that
// quotes them, and records one reference link per result on the pipe
// context so the relay can append them after the streamed answer.
//
// Runs on any turn when the caller sets need_web_search.
package search

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/pipes"
)

const promptTemplate = `Answer the question below using the search results provided.
Cite sources inline as [n] where n is the result number.

{{range $i, $r := .Results}}[{{inc $i}}] {{$r.Title}}
{{$r.URL}}
{{$r.Snippet}}

{{end}}Question: {{.Prompt}}`

var tmpl = template.Must(template.New("search").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(promptTemplate))

// Pipe is the search augmentation pipe.
type Pipe struct {
	enabled    bool
	maxResults int
	searcher   Searcher
}

// New creates a search pipe from config.
func New(cfg config.SearchConfig) *Pipe {
	var s Searcher
	if cfg.Enabled {
		s = NewClient(cfg.Endpoint, cfg.APIKey, WithTimeout(cfg.Timeout))
	}
	return NewWithSearcher(cfg.Enabled, cfg.MaxResults, s)
}

// NewWithSearcher creates a pipe over an arbitrary Searcher.
func NewWithSearcher(enabled bool, maxResults int, s Searcher) *Pipe {
	return &Pipe{enabled: enabled && s != nil, maxResults: maxResults, searcher: s}
}

// Name returns the pipe name.
func (p *Pipe) Name() string { return "search" }

// Enabled returns whether the pipe is active.
func (p *Pipe) Enabled() bool { return p.enabled }

// Process implements pipes.Pipe.
func (p *Pipe) Process(ctx *pipes.PipeContext) (string, error) {
	if !ctx.NeedWebSearch {
		return ctx.Message, nil
	}

	prompt, refs, err := p.Render(ctx, ctx.Message)
	if err != nil {
		return ctx.Message, err
	}
	ctx.References = append(ctx.References, refs...)
	return prompt, nil
}

// Render returns the augmented prompt and its reference links.
// With no results the prompt is returned unchanged.
func (p *Pipe) Render(ctx *pipes.PipeContext, prompt string) (string, []string, error) {
	results, err := p.searcher.Search(ctx.Ctx, prompt, p.maxResults)
	if err != nil {
		return prompt, nil, fmt.Errorf("search: %w", err)
	}
	if len(results) == 0 {
		log.Debug().Msg("search: no results")
		return prompt, nil, nil
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, struct {
		Prompt  string
		Results []Result
	}{prompt, results}); err != nil {
		return prompt, nil, fmt.Errorf("search: render: %w", err)
	}

	return b.String(), FormatReferences(results), nil
}

// FormatReferences renders one "\n[n] title: url" line per result.
func FormatReferences(results []Result) []string {
	refs := make([]string, len(results))
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = r.URL
		}
		refs[i] = fmt.Sprintf("\n[%d] %s: %s", i+1, title, r.URL)
	}
	return refs
}

var _ pipes.Pipe = (*Pipe)(nil)
