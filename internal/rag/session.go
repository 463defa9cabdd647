package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultMaxTurns = 10

// SessionStore keeps the bounded recent history of each conversation.
type SessionStore interface {
	Append(ctx context.Context, key string, turn Turn) error
	History(ctx context.Context, key string) ([]Turn, error)
}

// SessionKey scopes a client-supplied session key to its tenant.
func SessionKey(tenantID, sessionKey string) string {
	return tenantID + ":" + sessionKey
}

type memorySession struct {
	mu       sync.Mutex
	turns    []Turn
	lastSeen time.Time
}

// MemorySessions holds sessions in process. Each session has its own lock;
// the map lock is held only for lookup.
type MemorySessions struct {
	maxTurns int
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*memorySession
}

func NewMemorySessions(maxTurns int) *MemorySessions {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &MemorySessions{
		maxTurns: maxTurns,
		now:      time.Now,
		sessions: make(map[string]*memorySession),
	}
}

func (m *MemorySessions) session(key string) *memorySession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		s = &memorySession{lastSeen: m.now()}
		m.sessions[key] = s
	}
	return s
}

func (m *MemorySessions) Append(_ context.Context, key string, turn Turn) error {
	s := m.session(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, turn)
	if over := len(s.turns) - m.maxTurns; over > 0 {
		s.turns = append([]Turn(nil), s.turns[over:]...)
	}
	s.lastSeen = m.now()
	return nil
}

func (m *MemorySessions) History(_ context.Context, key string) ([]Turn, error) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = m.now()
	return append([]Turn(nil), s.turns...), nil
}

// Sweep drops sessions idle for longer than idle and returns how many went.
func (m *MemorySessions) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, s := range m.sessions {
		s.mu.Lock()
		stale := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if stale {
			delete(m.sessions, key)
			removed++
		}
	}
	return removed
}

func (m *MemorySessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RedisSessions keeps each session as a capped Redis list that expires after
// the idle TTL, so sessions survive restarts and are shared across replicas.
type RedisSessions struct {
	rdb      redis.UniversalClient
	maxTurns int
	idleTTL  time.Duration
	prefix   string
}

func NewRedisSessions(rdb redis.UniversalClient, maxTurns int, idleTTL time.Duration) *RedisSessions {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &RedisSessions{rdb: rdb, maxTurns: maxTurns, idleTTL: idleTTL, prefix: "session:"}
}

func (r *RedisSessions) Append(ctx context.Context, key string, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}

	k := r.prefix + key
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, k, data)
	pipe.LTrim(ctx, k, int64(-r.maxTurns), -1)
	if r.idleTTL > 0 {
		pipe.Expire(ctx, k, r.idleTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append session turn: %w", err)
	}
	return nil
}

func (r *RedisSessions) History(ctx context.Context, key string) ([]Turn, error) {
	k := r.prefix + key
	pipe := r.rdb.TxPipeline()
	lrange := pipe.LRange(ctx, k, int64(-r.maxTurns), -1)
	if r.idleTTL > 0 {
		pipe.Expire(ctx, k, r.idleTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	raw := lrange.Val()

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}
