package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/aura/internal/domain"
)

const decisionKeyPrefix = "decision:"

// Cached fronts a repository with a decision cache. New decisions are
// written through and any feedback or export change invalidates the cached
// copy. A miss reads the store without populating the cache, so a read
// racing a feedback update cannot park a stale copy after the
// invalidation. The underlying store stays the source of truth; cache
// errors only cost a round trip.
type Cached struct {
	domain.Repository
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps repo with cache.
func NewCached(repo domain.Repository, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		Repository: repo,
		cache:      cache,
		ttl:        ttl,
		logger:     logger.With("component", "decision-cache"),
	}
}

// SaveDecision persists d and caches it.
func (c *Cached) SaveDecision(ctx context.Context, d *domain.Decision) error {
	if err := c.Repository.SaveDecision(ctx, d); err != nil {
		return err
	}
	c.store(ctx, d)
	return nil
}

// GetDecision serves from cache when possible.
func (c *Cached) GetDecision(ctx context.Context, id string) (*domain.Decision, error) {
	if data, err := c.cache.Get(ctx, decisionKeyPrefix+id); err == nil && data != nil {
		var d domain.Decision
		if err := json.Unmarshal(data, &d); err == nil {
			return &d, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "prediction_id", id)
	}

	return c.Repository.GetDecision(ctx, id)
}

// MergeFeedback updates the store and drops the cached copy.
func (c *Cached) MergeFeedback(ctx context.Context, id string, label int) error {
	err := c.Repository.MergeFeedback(ctx, id, label)
	if err == nil {
		c.invalidate(ctx, id)
	}
	return err
}

// MarkExported updates the store and drops the cached copies.
func (c *Cached) MarkExported(ctx context.Context, records []domain.VerifiedRecord, exportID string, at time.Time) error {
	err := c.Repository.MarkExported(ctx, records, exportID, at)
	for _, rec := range records {
		c.invalidate(ctx, rec.ID)
	}
	return err
}

func (c *Cached) store(ctx context.Context, d *domain.Decision) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, decisionKeyPrefix+d.ID, data, c.ttl); err != nil {
		c.logger.Debug("cache set failed", "prediction_id", d.ID, "error", err)
	}
}

func (c *Cached) invalidate(ctx context.Context, id string) {
	if err := c.cache.Delete(ctx, decisionKeyPrefix+id); err != nil {
		c.logger.Warn("cache invalidation failed", "prediction_id", id, "error", err)
	}
}
