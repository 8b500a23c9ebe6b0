package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/utils"
)

// DefaultTextPath is where fragment text lives in a completion event.
const DefaultTextPath = "completion"

// HTTPSession is a Session backed by an HTTP chat service.
type HTTPSession struct {
	name           string
	baseURL        string
	sessionKey     string
	completionPath string
	textPath       string
	client         *http.Client
}

// NewHTTPSession creates a session client.
// The timeout bounds time-to-first-byte only; streams may run longer.
func NewHTTPSession(cfg config.SessionConfig, completionPath string) *HTTPSession {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	if completionPath == "" {
		completionPath = config.DefaultCompletionPath
	}
	return &HTTPSession{
		name:           cfg.Name,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		sessionKey:     cfg.SessionKey,
		completionPath: strings.Trim(completionPath, "/"),
		textPath:       DefaultTextPath,
		client:         &http.Client{Transport: transport},
	}
}

// Name implements Session.
func (s *HTTPSession) Name() string { return s.name }

// CreateConversation implements Session.
func (s *HTTPSession) CreateConversation(ctx context.Context, model string) (*Conversation, error) {
	body, _ := sjson.SetBytes([]byte(`{}`), "uuid", uuid.New().String())
	body, _ = sjson.SetBytes(body, "name", "")
	body, _ = sjson.SetBytes(body, "model", model)

	resp, err := s.do(ctx, http.MethodPost, "/conversations", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxRequestBodySize))
	if err != nil {
		return nil, fmt.Errorf("create conversation: read body: %w", err)
	}
	id := gjson.GetBytes(data, "uuid").String()
	if id == "" {
		return nil, fmt.Errorf("%w: create conversation: response has no uuid", ErrUpstream)
	}

	conv := &Conversation{ID: id, Model: model, CreatedAt: time.Now()}
	if created := gjson.GetBytes(data, "created_at"); created.Exists() {
		if t, err := time.Parse(time.RFC3339, created.String()); err == nil {
			conv.CreatedAt = t
		}
	}
	return conv, nil
}

// StreamMessage implements Session.
func (s *HTTPSession) StreamMessage(ctx context.Context, req MessageRequest) (*Stream, error) {
	if req.ConversationID == "" {
		return nil, fmt.Errorf("%w: stream message: empty conversation id", ErrUpstream)
	}
	body, err := buildCompletionBody(req)
	if err != nil {
		return nil, fmt.Errorf("stream message: %w", err)
	}

	path := "/conversations/" + url.PathEscape(req.ConversationID) + "/" + s.completionPath
	resp, err := s.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stream message: %w", err)
	}

	stream, out, errs := NewStream(0)
	dec := &sseDecoder{textPath: s.textPath}
	go dec.pump(ctx, resp.Body, out, errs)
	return stream, nil
}

// SendMessage implements Session by draining the stream.
func (s *HTTPSession) SendMessage(ctx context.Context, req MessageRequest) (*Response, error) {
	stream, err := s.StreamMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	text, err := Collect(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &Response{ConversationID: req.ConversationID, Text: text}, nil
}

// UploadAttachment implements Session.
func (s *HTTPSession) UploadAttachment(ctx context.Context, file FileUpload) (*AttachmentInfo, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", file.Name)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	n, err := io.Copy(part, io.LimitReader(file.Body, config.MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("upload: copy: %w", err)
	}
	if n > config.MaxUploadSize {
		return nil, fmt.Errorf("upload: file exceeds %d bytes", config.MaxUploadSize)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	resp, err := s.do(ctx, http.MethodPost, "/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxRequestBodySize))
	if err != nil {
		return nil, fmt.Errorf("upload: read body: %w", err)
	}
	parsed := gjson.ParseBytes(data)
	info := &AttachmentInfo{
		ID:       parsed.Get("file_uuid").String(),
		Name:     parsed.Get("file_name").String(),
		Size:     parsed.Get("size_bytes").Int(),
		Kind:     parsed.Get("file_kind").String(),
		ThumbURL: parsed.Get("thumbnail_url").String(),
	}
	if info.ID == "" {
		return nil, fmt.Errorf("%w: upload: response has no file_uuid", ErrUpstream)
	}
	if info.Name == "" {
		info.Name = file.Name
	}
	if info.Size == 0 {
		info.Size = n
	}
	return info, nil
}

// do sends a request and turns non-2xx statuses into ErrUpstream errors.
// The caller closes the body on success.
func (s *HTTPSession) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, utils.NormalizeEndpointURL(s.baseURL, path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if strings.Contains(path, "/"+s.completionPath) {
		req.Header.Set("Accept", "text/event-stream")
	}
	if s.sessionKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.sessionKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, config.MaxErrorBodyLogLen))
		resp.Body.Close()
		log.Warn().
			Str("session", s.name).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("key", utils.MaskKey(s.sessionKey)).
			Msg("upstream returned error status")
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrUpstream, method, path, resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp, nil
}

func buildCompletionBody(req MessageRequest) ([]byte, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "prompt", req.Prompt)
	if err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "model", req.Model); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "timezone", "UTC"); err != nil {
		return nil, err
	}

	attachments := req.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return nil, err
	}
	if body, err = sjson.SetRawBytes(body, "attachments", raw); err != nil {
		return nil, err
	}

	files := req.Files
	if files == nil {
		files = []string{}
	}
	return sjson.SetBytes(body, "files", files)
}

var _ Session = (*HTTPSession)(nil)
