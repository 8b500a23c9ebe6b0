// Package pipes defines the prompt preprocessing chain.
//
// DESIGN: Two independent pipe packages, each implementing this interface:
//   - search/:    augment the prompt with search results, collect reference links
//   - artifacts/: wrap first-turn prompts in a rich-content rendering template
//
// FLOW:
//  1. Gateway builds a PipeContext from the chat request
//  2. Chain runs each enabled pipe in order (search, then artifacts)
//  3. Each pipe decides from the context whether it applies
//  4. Pipes return the rewritten message; references accumulate on the context
//
// Pipes never touch quota, pool or conversation state.
package pipes

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// PipeContext carries one outbound message through the chain.
type PipeContext struct {
	// Request context for cancellation and timeouts
	Ctx context.Context

	// Current outbound message (rewritten by each pipe)
	Message string

	Model string

	// FirstTurn is true when the conversation was just created
	FirstTurn bool

	// Caller opt-in flags
	NeedWebSearch bool
	NeedArtifacts bool

	// References collected by search, in discovery order
	References []string

	// Applied lists the pipes that changed the message
	Applied []string
}

// NewPipeContext creates a pipe context for message.
func NewPipeContext(ctx context.Context, message string) *PipeContext {
	return &PipeContext{Ctx: ctx, Message: message}
}

// Pipe defines the interface for a preprocessing pipe.
type Pipe interface {
	// Name returns the pipe identifier.
	Name() string

	// Enabled returns whether this pipe is configured on.
	Enabled() bool

	// Process returns the rewritten message. Pipes that do not apply to
	// the context return ctx.Message unchanged.
	Process(ctx *PipeContext) (string, error)
}

// Chain runs pipes in order.
type Chain struct {
	pipes []Pipe
}

// NewChain creates a chain. Nil pipes are skipped.
func NewChain(ps ...Pipe) *Chain {
	c := &Chain{}
	for _, p := range ps {
		if p != nil {
			c.pipes = append(c.pipes, p)
		}
	}
	return c
}

// Run applies every enabled pipe. A failing pipe is logged and its input
// passes through unchanged.
func (c *Chain) Run(ctx *PipeContext) string {
	for _, p := range c.pipes {
		if !p.Enabled() {
			continue
		}
		start := time.Now()
		out, err := p.Process(ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("pipe", p.Name()).
				Dur("took", time.Since(start)).
				Msg("pipe failed, passing message through")
			continue
		}
		if out != ctx.Message {
			ctx.Applied = append(ctx.Applied, p.Name())
			log.Debug().
				Str("pipe", p.Name()).
				Int("before", len(ctx.Message)).
				Int("after", len(out)).
				Dur("took", time.Since(start)).
				Msg("pipe applied")
		}
		ctx.Message = out
	}
	return ctx.Message
}

// Len returns the number of pipes.
func (c *Chain) Len() int { return len(c.pipes) }
