package pool

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/session-gateway/internal/models"
	"github.com/compresr/session-gateway/internal/upstream"
)

type stubSession struct{ name string }

func (s stubSession) Name() string { return s.name }
func (stubSession) CreateConversation(context.Context, string) (*upstream.Conversation, error) {
	return &upstream.Conversation{ID: "c"}, nil
}
func (stubSession) StreamMessage(context.Context, upstream.MessageRequest) (*upstream.Stream, error) {
	return upstream.StaticStream(nil, nil), nil
}
func (stubSession) SendMessage(context.Context, upstream.MessageRequest) (*upstream.Response, error) {
	return &upstream.Response{}, nil
}
func (stubSession) UploadAttachment(context.Context, upstream.FileUpload) (*upstream.AttachmentInfo, error) {
	return &upstream.AttachmentInfo{}, nil
}

func newTestPool() *Pool {
	return New(map[models.Tier][]upstream.Session{
		models.TierBasic: {stubSession{"b0"}, stubSession{"b1"}},
		models.TierPlus:  {stubSession{"p0"}},
	})
}

func TestSelect(t *testing.T) {
	p := newTestPool()

	h, err := p.Select(models.TierBasic, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Index)
	assert.Equal(t, "b1", h.Session.Name())
	assert.Equal(t, models.TierBasic, h.Tier)

	for _, idx := range []int{-1, 2, 100} {
		_, err := p.Select(models.TierBasic, idx)
		assert.ErrorIs(t, err, ErrOutOfRange, "index %d", idx)
	}
	_, err = p.Select(models.TierPlus, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	assert.Equal(t, 2, p.Size(models.TierBasic))
	assert.Equal(t, 1, p.Size(models.TierPlus))
}

func TestIncrementUsage_Concurrent(t *testing.T) {
	p := newTestPool()
	const k = 500

	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.IncrementUsage(models.TierBasic, 0, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	h, err := p.Select(models.TierBasic, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(k), h.Usage())

	other, err := p.Select(models.TierBasic, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.Usage())
}

func TestSnapshot(t *testing.T) {
	p := newTestPool()
	_, err := p.IncrementUsage(models.TierPlus, 0, 3)
	require.NoError(t, err)

	snap := p.Snapshot()
	require.Len(t, snap[models.TierBasic], 2)
	require.Len(t, snap[models.TierPlus], 1)
	assert.Equal(t, SessionStatus{Index: 0, Name: "p0", Usage: 3}, snap[models.TierPlus][0])
	assert.Equal(t, int64(0), snap[models.TierBasic][1].Usage)
}
