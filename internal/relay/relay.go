package relay

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// Options configures one relay run.
type Options struct {
	ConversationID string
	References     []string

	// OnComplete runs once, after the closed event was delivered, only on
	// natural completion.
	OnComplete func(Completion)

	// OnStreamError runs when the upstream reported an error. The caller has
	// already received the interrupted notice and the closed event.
	OnStreamError func(error)

	// OnCancel runs when ctx ended the relay early.
	OnCancel func()
}

// Stream relays fragments to the returned channel.
//
// Cancelling ctx stops the relay at its next send or receive; no sentinel
// is emitted and only OnCancel runs. The caller must keep reading until the
// channel closes or cancel ctx.
func Stream(ctx context.Context, fragments <-chan string, errs <-chan error, opts Options) <-chan Event {
	out := make(chan Event)
	go run(ctx, fragments, errs, opts, out)
	return out
}

func run(ctx context.Context, fragments <-chan string, errs <-chan error, opts Options, out chan<- Event) {
	ordinal := 0
	send := func(kind Kind, msg string) bool {
		ev := Event{Ordinal: ordinal, Kind: kind, Message: msg, ID: opts.ConversationID}
		select {
		case out <- ev:
			ordinal++
			return true
		case <-ctx.Done():
			return false
		}
	}
	abort := func() {
		close(out)
		log.Debug().
			Str("conversation_id", opts.ConversationID).
			Int("events", ordinal).
			Msg("relay cancelled by caller")
		if opts.OnCancel != nil {
			opts.OnCancel()
		}
	}

	var text strings.Builder
	fragCount := 0

recv:
	for {
		select {
		case <-ctx.Done():
			abort()
			return
		case frag, ok := <-fragments:
			if !ok {
				break recv
			}
			text.WriteString(frag)
			fragCount++
			if !send(KindFragment, frag) {
				abort()
				return
			}
		}
	}

	// The producer writes its error before closing fragments.
	var streamErr error
	if errs != nil {
		select {
		case streamErr = <-errs:
		default:
		}
	}

	if streamErr != nil {
		if !send(KindNotice, InterruptedMessage) || !send(KindClosed, ClosedMessage) {
			abort()
			return
		}
		close(out)
		if opts.OnStreamError != nil {
			opts.OnStreamError(streamErr)
		}
		return
	}

	for _, ref := range opts.References {
		if !send(KindReference, ref) {
			abort()
			return
		}
	}
	if !send(KindClosed, ClosedMessage) {
		abort()
		return
	}
	close(out)

	if opts.OnComplete != nil {
		opts.OnComplete(Completion{
			ConversationID: opts.ConversationID,
			Text:           text.String(),
			References:     opts.References,
			Fragments:      fragCount,
		})
	}
}

// Notice returns a finished two-event sequence: msg, then the sentinel.
// Denials and creation failures use it so every outcome has one shape.
func Notice(conversationID, msg string) <-chan Event {
	out := make(chan Event, 2)
	out <- Event{Ordinal: 0, Kind: KindNotice, Message: msg, ID: conversationID}
	out <- Event{Ordinal: 1, Kind: KindClosed, Message: ClosedMessage, ID: conversationID}
	close(out)
	return out
}

// Drain reads every event until the channel closes.
func Drain(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}
