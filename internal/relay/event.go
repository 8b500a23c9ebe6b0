// Package relay turns upstream text fragments into the caller-facing event
// sequence.
//
// DESIGN: One goroutine per request reads fragments and writes Events to an
// unbuffered channel, so each send completes only once the caller took it.
// Output order is fixed:
//
//	fragment* reference* closed
//
// The completion hook runs after the closed event was taken and only when
// the relay finished naturally (no disconnect, no upstream error).
package relay

import "strings"

// Kind tags what an event carries.
type Kind string

const (
	KindFragment  Kind = "fragment"
	KindReference Kind = "reference"
	KindNotice    Kind = "notice"
	KindClosed    Kind = "closed"
)

// ClosedMessage is the terminal sentinel payload.
const ClosedMessage = "closed"

// InterruptedMessage is emitted before the sentinel when the upstream stream broke.
const InterruptedMessage = "\n\n[The response was interrupted. Please retry.]"

// Event is one unit of the outbound sequence.
type Event struct {
	Ordinal int    `json:"-"`
	Kind    Kind   `json:"-"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

// IsTerminal reports whether e is the closed sentinel.
func (e Event) IsTerminal() bool { return e.Kind == KindClosed }

// Completion is what the relay hands to the completion hook.
type Completion struct {
	ConversationID string
	Text           string   // all fragments concatenated
	References     []string // discovery order
	Fragments      int
}

// AssistantMessage is the text with references appended as trailing text.
func (c Completion) AssistantMessage() string {
	if len(c.References) == 0 {
		return c.Text
	}
	return c.Text + strings.Join(c.References, "")
}
