// Package upstream talks to the backing chat sessions.
//
// DESIGN: The gateway only depends on the Session interface:
//   - CreateConversation: obtain a new conversation id for a model
//   - StreamMessage:      lazy sequence of text fragments (Stream)
//   - SendMessage:        the whole reply at once
//   - UploadAttachment:   push a file, get a descriptor back
//
// HTTPSession is the production implementation (JSON + SSE over HTTP).
// Tests substitute fakes.
package upstream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/compresr/session-gateway/internal/models"
)

// ErrUpstream marks failures reported by the upstream service.
var ErrUpstream = errors.New("upstream error")

// Session is one logical chat-capable upstream session.
type Session interface {
	Name() string
	CreateConversation(ctx context.Context, model string) (*Conversation, error)
	StreamMessage(ctx context.Context, req MessageRequest) (*Stream, error)
	SendMessage(ctx context.Context, req MessageRequest) (*Response, error)
	UploadAttachment(ctx context.Context, file FileUpload) (*AttachmentInfo, error)
}

// Conversation is returned by CreateConversation.
type Conversation struct {
	ID        string    `json:"uuid"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is inline extracted content sent with a message.
type Attachment struct {
	FileName         string `json:"file_name"`
	FileType         string `json:"file_type"`
	FileSize         int64  `json:"file_size"`
	ExtractedContent string `json:"extracted_content"`
}

// MessageRequest is one user turn sent to a conversation.
type MessageRequest struct {
	ConversationID string
	Model          string
	Prompt         string
	Tier           models.Tier
	SessionIndex   int
	Attachments    []Attachment
	Files          []string // ids returned by UploadAttachment
}

// Stream is a lazy sequence of text fragments.
// The producer writes at most one error to Err (buffered) and then closes Ch.
type Stream struct {
	Ch  <-chan string
	Err <-chan error
}

// Response is the non-streaming reply.
type Response struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// FileUpload is an attachment to push upstream.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AttachmentInfo describes an uploaded file.
type AttachmentInfo struct {
	ID       string `json:"file_uuid"`
	Name     string `json:"file_name"`
	Size     int64  `json:"size_bytes"`
	Kind     string `json:"file_kind,omitempty"`
	ThumbURL string `json:"thumbnail_url,omitempty"`
}

// NewStream returns a Stream and its producer ends.
func NewStream(buffer int) (*Stream, chan<- string, chan<- error) {
	ch := make(chan string, buffer)
	errCh := make(chan error, 1)
	return &Stream{Ch: ch, Err: errCh}, ch, errCh
}

// StaticStream returns a finished stream over the given fragments.
func StaticStream(fragments []string, err error) *Stream {
	s, ch, errCh := NewStream(len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	if err != nil {
		errCh <- err
	}
	close(ch)
	return s
}

// Collect drains a stream into one string.
func Collect(ctx context.Context, s *Stream) (string, error) {
	var text []byte
	for {
		select {
		case <-ctx.Done():
			return string(text), ctx.Err()
		case frag, ok := <-s.Ch:
			if !ok {
				select {
				case err := <-s.Err:
					return string(text), err
				default:
					return string(text), nil
				}
			}
			text = append(text, frag...)
		}
	}
}
