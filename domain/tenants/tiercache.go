package tenants

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/queue"
	"github.com/relaydev/syncd/pkg/ttlcache"
)

// TierResolver resolves a tenant to its queue tier. Producers call this on
// every publish, so results are cached with a short TTL: a tier change takes
// effect within one TTL unless Invalidate is called.
type TierResolver struct {
	repo  *Repository
	cache *ttlcache.Cache[uuid.UUID, queue.Tier]
}

// NewTierResolver creates a tier resolver backed by the tenant repository.
func NewTierResolver(repo *Repository, cfg *config.Config) *TierResolver {
	return &TierResolver{
		repo:  repo,
		cache: ttlcache.New[uuid.UUID, queue.Tier](cfg.Queue.TierCacheTTL, 4096),
	}
}

// Tier returns the tenant's queue tier.
func (r *TierResolver) Tier(ctx context.Context, tenantID uuid.UUID) (queue.Tier, error) {
	if tier, ok := r.cache.Get(tenantID); ok {
		return tier, nil
	}

	tenant, err := r.repo.GetByID(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("resolve tier: %w", err)
	}

	tier := queue.ParseTier(tenant.Tier)
	r.cache.Set(tenantID, tier)
	return tier, nil
}

// QueueFor resolves the queue name for a stage and tenant.
func (r *TierResolver) QueueFor(ctx context.Context, stage queue.Stage, tenantID uuid.UUID) (string, error) {
	tier, err := r.Tier(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return queue.Name(stage, tier), nil
}

// Invalidate drops the cached tier after a tenant mutation.
func (r *TierResolver) Invalidate(tenantID uuid.UUID) {
	r.cache.Invalidate(tenantID)
}
