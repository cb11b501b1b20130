package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-agri/harrow/internal/domain"
)

// RefProvider supplies the reference snapshot used to join applications
// against registries.
type RefProvider interface {
	Snapshot(ctx context.Context) (*domain.ReferenceSet, error)
}

// RepoRefProvider loads reference data from the repository and caches the
// snapshot for a TTL. Batch scoring therefore sees one consistent registry
// view instead of re-querying per record.
type RepoRefProvider struct {
	repo domain.Repository
	ttl  time.Duration

	mu       sync.Mutex
	snapshot *domain.ReferenceSet
	loadedAt time.Time
}

// NewRepoRefProvider creates a provider with the given snapshot TTL.
func NewRepoRefProvider(repo domain.Repository, ttl time.Duration) *RepoRefProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RepoRefProvider{repo: repo, ttl: ttl}
}

// Snapshot returns the cached reference set, reloading it when stale.
func (p *RepoRefProvider) Snapshot(ctx context.Context) (*domain.ReferenceSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snapshot != nil && time.Since(p.loadedAt) < p.ttl {
		return p.snapshot, nil
	}

	farmers, err := p.repo.ListFarmers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load farmers: %w", err)
	}
	dealers, err := p.repo.ListDealers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dealers: %w", err)
	}
	rules, err := p.repo.ListSchemeRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheme rules: %w", err)
	}

	refs := &domain.ReferenceSet{
		Farmers:     make(map[string]*domain.Farmer, len(farmers)),
		Dealers:     make(map[string]*domain.Dealer, len(dealers)),
		SchemeRules: rules,
	}
	for _, f := range farmers {
		refs.Farmers[f.ID] = f
	}
	for _, d := range dealers {
		refs.Dealers[d.ID] = d
	}

	p.snapshot = refs
	p.loadedAt = time.Now()
	return refs, nil
}

// Invalidate drops the cached snapshot so the next call reloads.
func (p *RepoRefProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = nil
}

// StaticRefProvider serves a fixed reference set. Used by training and tests.
type StaticRefProvider struct {
	Refs *domain.ReferenceSet
}

// Snapshot returns the fixed reference set.
func (p *StaticRefProvider) Snapshot(ctx context.Context) (*domain.ReferenceSet, error) {
	if p.Refs == nil {
		return nil, fmt.Errorf("no reference set configured")
	}
	return p.Refs, nil
}
