// Package auth verifies chatbot API keys and dashboard owner tokens.
package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"rag-chatbot-platform/internal/database"
	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/models"
)

const APIKeyPrefix = "cb_"

var ErrUnauthorized = rag.ErrUnauthorized

// GenerateAPIKey returns a new "cb_<32 hex>" key. Only its digest is stored.
func GenerateAPIKey() string {
	id := uuid.New()
	return APIKeyPrefix + hex.EncodeToString(id[:])
}

// KeyHint is the part of a key safe to show in listings.
func KeyHint(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}

// KeyHasher digests API keys with a server-side secret so a leaked database
// does not leak usable keys.
type KeyHasher struct {
	secret []byte
}

func NewKeyHasher(secret string) *KeyHasher {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &KeyHasher{secret: key}
}

func (h *KeyHasher) Digest(apiKey string) string {
	mac, err := blake2b.New256(h.secret)
	if err != nil {
		// secret length is bounded in NewKeyHasher
		panic(err)
	}
	mac.Write([]byte(apiKey))
	return hex.EncodeToString(mac.Sum(nil))
}

type ChatbotFinder interface {
	ChatbotByKeyDigest(ctx context.Context, digest string) (*models.Chatbot, error)
}

type cachedTenant struct {
	tenantID string
	expires  time.Time
}

// KeyVerifier maps an API key to its tenant id. Positive lookups are cached
// for ttl.
type KeyVerifier struct {
	hasher *KeyHasher
	finder ChatbotFinder
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedTenant
}

func NewKeyVerifier(hasher *KeyHasher, finder ChatbotFinder, ttl time.Duration) *KeyVerifier {
	return &KeyVerifier{
		hasher: hasher,
		finder: finder,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cachedTenant),
	}
}

// Verify returns the tenant id for apiKey, or an error wrapping
// ErrUnauthorized when the key is malformed or unknown.
func (v *KeyVerifier) Verify(ctx context.Context, apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if !strings.HasPrefix(apiKey, APIKeyPrefix) || len(apiKey) <= len(APIKeyPrefix) {
		return "", fmt.Errorf("%w: malformed api key", ErrUnauthorized)
	}
	digest := v.hasher.Digest(apiKey)

	v.mu.RLock()
	hit, ok := v.cache[digest]
	v.mu.RUnlock()
	if ok && v.now().Before(hit.expires) {
		return hit.tenantID, nil
	}

	bot, err := v.finder.ChatbotByKeyDigest(ctx, digest)
	if errors.Is(err, database.ErrNotFound) {
		v.mu.Lock()
		delete(v.cache, digest)
		v.mu.Unlock()
		return "", fmt.Errorf("%w: unknown api key", ErrUnauthorized)
	}
	if err != nil {
		return "", fmt.Errorf("verify api key: %w", err)
	}

	tenantID := bot.TenantID()
	if v.ttl > 0 {
		v.mu.Lock()
		v.cache[digest] = cachedTenant{tenantID: tenantID, expires: v.now().Add(v.ttl)}
		v.mu.Unlock()
	}
	return tenantID, nil
}
