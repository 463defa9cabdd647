package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTarget struct {
	mu      sync.Mutex
	tenants []string
}

func (r *recordingTarget) Invalidate(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = append(r.tenants, tenantID)
}

func (r *recordingTarget) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tenants...)
}

func TestInvalidatorAppliesPeerMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := NewInvalidator(rdb, quietLogger())
	worker := NewInvalidator(rdb, quietLogger())

	target := &recordingTarget{}
	require.NoError(t, server.Subscribe(ctx, target))

	require.NoError(t, server.Publish(ctx, "self"))
	require.NoError(t, worker.Publish(ctx, "T1"))

	assert.Eventually(t, func() bool { return len(target.seen()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"T1"}, target.seen())

	mr.Publish(InvalidationChannel, "garbage")
	require.NoError(t, worker.Publish(ctx, "T2"))
	assert.Eventually(t, func() bool { return len(target.seen()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"T1", "T2"}, target.seen())
}
