package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/history"
	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/pipes"
	"github.com/compresr/session-gateway/internal/pipes/artifacts"
	"github.com/compresr/session-gateway/internal/pipes/search"
	"github.com/compresr/session-gateway/internal/pool"
	"github.com/compresr/session-gateway/internal/quota"
	"github.com/compresr/session-gateway/internal/relay"
	"github.com/compresr/session-gateway/internal/upstream"
)

// fakeSession counts every collaborator call.
type fakeSession struct {
	name string

	mu             sync.Mutex
	createFailures int // fail this many creates before succeeding
	fragments      []string
	streamErr      error
	block          chan string // when set, StreamMessage streams from it
	creates        int
	streams        int
	sends          int
	uploads        int
	lastReq        upstream.MessageRequest
	lastUpload     string
}

func (f *fakeSession) Name() string { return f.name }

func (f *fakeSession) CreateConversation(ctx context.Context, model string) (*upstream.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.creates <= f.createFailures {
		return nil, fmt.Errorf("%w: create %d refused", upstream.ErrUpstream, f.creates)
	}
	return &upstream.Conversation{ID: fmt.Sprintf("conv-%s-%d", f.name, f.creates), Model: model}, nil
}

func (f *fakeSession) StreamMessage(ctx context.Context, req upstream.MessageRequest) (*upstream.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams++
	f.lastReq = req
	if f.block != nil {
		return &upstream.Stream{Ch: f.block, Err: make(chan error, 1)}, nil
	}
	return upstream.StaticStream(f.fragments, f.streamErr), nil
}

func (f *fakeSession) SendMessage(ctx context.Context, req upstream.MessageRequest) (*upstream.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	f.lastReq = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	text := ""
	for _, frag := range f.fragments {
		text += frag
	}
	return &upstream.Response{ConversationID: req.ConversationID, Text: text}, nil
}

func (f *fakeSession) UploadAttachment(ctx context.Context, file upstream.FileUpload) (*upstream.AttachmentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	data, err := io.ReadAll(file.Body)
	if err != nil {
		return nil, err
	}
	f.lastUpload = string(data)
	return &upstream.AttachmentInfo{ID: "file-1", Name: file.Name, Size: int64(len(data))}, nil
}

func (f *fakeSession) calls() (creates, streams, sends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.streams, f.sends
}

func (f *fakeSession) upstreamCalls() int {
	c, s, n := f.calls()
	return c + s + n
}

// fakeSearcher returns fixed results.
type fakeSearcher struct {
	results []search.Result
	err     error
}

func (s fakeSearcher) Search(context.Context, string, int) ([]search.Result, error) {
	return s.results, s.err
}

// recordingSleeper records waits and honours cancellation.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

const (
	keyBasic   = "basic-credential-0001"
	keyPlus    = "plus-credential-00001"
	keySpent   = "spent-credential-0001"
	keyDeleted = "deleted-credential-01"

	modelBasic = "m-basic"
	modelPlus  = "m-plus"

	retryInterval = 250 * time.Millisecond
	settleDelay   = 40 * time.Millisecond
	maxRetries    = 3
)

type testEnv struct {
	gw      *Gateway
	ledger  *quota.Ledger
	pool    *pool.Pool
	history *history.MemoryRecorder
	sleeper *recordingSleeper
	basic   []*fakeSession
	plus    []*fakeSession
	cfg     *config.Config
}

type envOption func(*envConfig)

type envConfig struct {
	searcher  search.Searcher
	artifacts bool
	adminKey  string
}

func withSearch(s search.Searcher) envOption { return func(c *envConfig) { c.searcher = s } }
func withArtifacts() envOption               { return func(c *envConfig) { c.artifacts = true } }
func withAdmin(secret string) envOption      { return func(c *envConfig) { c.adminKey = secret } }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	var ec envConfig
	for _, o := range opts {
		o(&ec)
	}
	ctx := context.Background()

	store := quota.NewMemoryStore()
	for _, c := range []*quota.Credential{
		{Key: keyBasic, Tier: models.TierBasic, Limit: 1000, Status: quota.StatusPending, ValidDays: 30},
		{Key: keyPlus, Tier: models.TierPlus, Limit: 1000, Status: quota.StatusActive},
		{Key: keySpent, Tier: models.TierBasic, Usage: 5, Limit: 5, Status: quota.StatusActive},
		{Key: keyDeleted, Tier: models.TierPlus, Usage: 0, Limit: 5, Status: quota.StatusDeleted},
	} {
		require.NoError(t, store.Put(ctx, c))
	}
	ledger := quota.NewLedger(store)

	env := &testEnv{
		ledger:  ledger,
		history: history.NewMemoryRecorder(history.EstimateTokens),
		sleeper: &recordingSleeper{},
		basic:   []*fakeSession{{name: "basic-0"}, {name: "basic-1"}},
		plus:    []*fakeSession{{name: "plus-0"}},
	}
	sessions := map[models.Tier][]upstream.Session{}
	for _, s := range env.basic {
		sessions[models.TierBasic] = append(sessions[models.TierBasic], s)
	}
	for _, s := range env.plus {
		sessions[models.TierPlus] = append(sessions[models.TierPlus], s)
	}
	env.pool = pool.New(sessions)

	art, err := artifacts.New(config.ArtifactsConfig{Enabled: ec.artifacts})
	require.NoError(t, err)
	chain := pipes.NewChain(search.NewWithSearcher(ec.searcher != nil, 5, ec.searcher), art)

	cfg := config.Default()
	cfg.Admin.JWTSecret = ec.adminKey
	env.cfg = cfg

	env.gw = New(Deps{
		Config:       cfg,
		Ledger:       ledger,
		Pool:         env.pool,
		Catalog:      models.NewCatalog([]string{modelBasic}, []string{modelPlus}),
		Chain:        chain,
		History:      env.history,
		Orchestrator: NewOrchestrator(maxRetries, FixedBackoff(retryInterval), settleDelay, env.sleeper.sleep),
		Version:      "test",
	})
	return env
}

func (e *testEnv) usage(t *testing.T, key string) int64 {
	t.Helper()
	c, err := e.ledger.Lookup(context.Background(), key)
	require.NoError(t, err)
	return c.Usage
}

func (e *testEnv) recorded(t *testing.T, key string) []history.Conversation {
	t.Helper()
	convs, err := e.history.Conversations(context.Background(), key, "")
	if errors.Is(err, history.ErrNoConversation) {
		return nil
	}
	require.NoError(t, err)
	return convs
}

func chat(key, model, clientType string, idx int, msg string) ChatRequest {
	return ChatRequest{Credential: key, Model: model, ClientType: clientType, ClientIndex: idx, Message: msg}
}

func messagesOf(events []relay.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Message
	}
	return out
}
