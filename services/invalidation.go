package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const InvalidationChannel = "rag:index:invalidate"

type Invalidatable interface {
	Invalidate(tenantID string)
}

// Invalidator broadcasts index changes over Redis pub/sub so every process
// drops its stale chain and rebuilds from stored source on the next question.
// A process ignores its own messages.
type Invalidator struct {
	rdb        redis.UniversalClient
	instanceID string
	logger     *slog.Logger
}

func NewInvalidator(rdb redis.UniversalClient, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{rdb: rdb, instanceID: uuid.NewString(), logger: logger}
}

func (i *Invalidator) Publish(ctx context.Context, tenantID string) error {
	if err := i.rdb.Publish(ctx, InvalidationChannel, i.instanceID+"|"+tenantID).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Subscribe applies invalidations from other processes to target until ctx is
// done. It returns once the subscription is active.
func (i *Invalidator) Subscribe(ctx context.Context, target Invalidatable) error {
	sub := i.rdb.Subscribe(ctx, InvalidationChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", InvalidationChannel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				origin, tenantID, found := strings.Cut(msg.Payload, "|")
				if !found || tenantID == "" || origin == i.instanceID {
					continue
				}
				target.Invalidate(tenantID)
				i.logger.Info("index invalidated by peer", "tenant_id", tenantID, "origin", origin)
			}
		}
	}()
	return nil
}
