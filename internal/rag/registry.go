package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultBuildTimeout = 2 * time.Minute

// State is a tenant's position in the index lifecycle.
type State int

const (
	StateAbsent State = iota
	StateBuilding
	StateReady
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return "absent"
	}
}

// Builder turns a tenant's source into a ready chain.
type Builder struct {
	Chunker   *Chunker
	Embedder  Embedder
	Generator *Generator
	TopK      int
	BatchSize int
}

func (b *Builder) Build(ctx context.Context, tenantID string, src Source) (*Chain, error) {
	passages := b.Chunker.SplitDocuments(src.Documents)
	if len(passages) == 0 {
		return nil, ErrEmptySource
	}

	vectors, err := EmbedPassages(ctx, b.Embedder, passages, b.BatchSize)
	if err != nil {
		return nil, err
	}

	index, err := BuildIndex(b.Embedder.Dimension(), passages, vectors)
	if err != nil {
		return nil, err
	}

	return &Chain{
		TenantID:  tenantID,
		Identity:  src.Identity,
		Index:     index,
		Retriever: NewRetriever(index, b.Embedder, b.TopK),
		Generator: b.Generator,
		BuiltAt:   time.Now(),
	}, nil
}

// BuildObserver is told about every finished build attempt.
type BuildObserver func(tenantID string, passages int, took time.Duration, err error)

type RegistryOption func(*Registry)

func WithBuildTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithBuildObserver(o BuildObserver) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

type entry struct {
	chain    atomic.Pointer[Chain]
	building atomic.Int32

	// buildMu serializes builds of one tenant.
	buildMu sync.Mutex

	// stateMu guards install against a concurrent Invalidate.
	stateMu sync.Mutex
	gen     uint64
}

// Registry caches one chain per tenant. Reads never block; builds are
// single-flight per tenant and never hold a registry-wide lock.
type Registry struct {
	builder  *Builder
	timeout  time.Duration
	logger   *slog.Logger
	observer BuildObserver
	group    singleflight.Group

	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry(builder *Builder, opts ...RegistryOption) *Registry {
	r := &Registry{
		builder: builder,
		timeout: DefaultBuildTimeout,
		logger:  slog.Default(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) entry(tenantID string) *entry {
	r.mu.RLock()
	e, ok := r.entries[tenantID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[tenantID]; !ok {
		e = &entry{}
		r.entries[tenantID] = e
	}
	return e
}

// Lookup returns the installed chain or ErrIndexNotReady.
func (r *Registry) Lookup(tenantID string) (*Chain, error) {
	r.mu.RLock()
	e, ok := r.entries[tenantID]
	r.mu.RUnlock()
	if ok {
		if c := e.chain.Load(); c != nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrIndexNotReady, tenantID)
}

// GetOrBuild returns the installed chain, building it from fetch on a miss.
// Concurrent callers for one tenant share a single build. The build runs
// under the registry timeout and survives cancellation of the caller that
// started it.
func (r *Registry) GetOrBuild(ctx context.Context, tenantID string, fetch SourceFunc) (*Chain, error) {
	e := r.entry(tenantID)
	if c := e.chain.Load(); c != nil {
		return c, nil
	}

	ch := r.group.DoChan(tenantID, func() (any, error) {
		e.buildMu.Lock()
		defer e.buildMu.Unlock()

		// A Replace may have finished while we waited.
		if c := e.chain.Load(); c != nil {
			return c, nil
		}

		e.stateMu.Lock()
		gen := e.gen
		e.stateMu.Unlock()

		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		chain, err := r.build(bctx, e, tenantID, fetch)
		if err != nil {
			return nil, err
		}

		e.stateMu.Lock()
		if e.gen == gen {
			e.chain.Store(chain)
		} else {
			r.logger.Debug("discarding stale rebuild", "tenant_id", tenantID)
		}
		e.stateMu.Unlock()
		return chain, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Chain), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Replace builds a chain from src and installs it in place of any current one.
// persist runs after the build succeeds and before install; if it fails
// nothing is installed. Readers keep the old chain until the swap.
func (r *Registry) Replace(ctx context.Context, tenantID string, src Source, persist func(context.Context) error) (*Chain, error) {
	e := r.entry(tenantID)
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	bctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	chain, err := r.build(bctx, e, tenantID, func(context.Context) (Source, error) { return src, nil })
	if err != nil {
		return nil, err
	}
	if persist != nil {
		if err := persist(bctx); err != nil {
			return nil, err
		}
	}

	e.stateMu.Lock()
	e.gen++
	e.chain.Store(chain)
	e.stateMu.Unlock()
	return chain, nil
}

// Invalidate drops the tenant's chain. A rebuild already in flight completes
// for its waiters but is not installed.
func (r *Registry) Invalidate(tenantID string) {
	r.mu.RLock()
	e, ok := r.entries[tenantID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.stateMu.Lock()
	e.gen++
	e.chain.Store(nil)
	e.stateMu.Unlock()
}

func (r *Registry) State(tenantID string) State {
	r.mu.RLock()
	e, ok := r.entries[tenantID]
	r.mu.RUnlock()
	switch {
	case !ok:
		return StateAbsent
	case e.building.Load() > 0:
		return StateBuilding
	case e.chain.Load() != nil:
		return StateReady
	default:
		return StateAbsent
	}
}

// Tenants lists tenants with an installed chain, sorted.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, e := range r.entries {
		if e.chain.Load() != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) build(ctx context.Context, e *entry, tenantID string, fetch SourceFunc) (*Chain, error) {
	e.building.Add(1)
	defer e.building.Add(-1)

	start := time.Now()
	chain, err := func() (*Chain, error) {
		src, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return r.builder.Build(ctx, tenantID, src)
	}()
	took := time.Since(start)

	passages := 0
	if chain != nil {
		passages = chain.Index.Len()
	}
	if r.observer != nil {
		r.observer(tenantID, passages, took, err)
	}
	if err != nil {
		r.logger.Warn("index build failed", "tenant_id", tenantID, "duration", took, "error", err)
		return nil, err
	}
	r.logger.Info("index built", "tenant_id", tenantID, "passages", passages, "duration", took)
	return chain, nil
}
