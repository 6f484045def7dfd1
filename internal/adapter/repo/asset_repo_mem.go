package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/square-1111/LogoKraft/internal/domain"
)

// AssetRepositoryMem is an in-memory domain.AssetRepository. It backs the
// test suite and development environments where PostgreSQL is not available,
// and enforces exactly the same lifecycle rules as the PG adapter.
type AssetRepositoryMem struct {
	mu      sync.Mutex
	assets  map[string]*domain.Asset
	batches map[string][]string
}

// NewAssetRepositoryMem constructs an empty in-memory repository.
func NewAssetRepositoryMem() *AssetRepositoryMem {
	return &AssetRepositoryMem{
		assets:  make(map[string]*domain.Asset),
		batches: make(map[string][]string),
	}
}

// CreateBatch registers one pending asset per prompt under a fresh batch id.
func (r *AssetRepositoryMem) CreateBatch(ctx context.Context, batch *domain.Batch, prompts []string, parentAssetID string) ([]domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.RequestedCount = len(prompts)

	assets := make([]domain.Asset, 0, len(prompts))
	for _, prompt := range prompts {
		asset := &domain.Asset{
			ID:            uuid.NewString(),
			BatchID:       batch.ID,
			ProjectID:     batch.ProjectID,
			ParentAssetID: parentAssetID,
			Prompt:        prompt,
			Status:        domain.AssetStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		r.assets[asset.ID] = asset
		r.batches[batch.ID] = append(r.batches[batch.ID], asset.ID)
		assets = append(assets, *asset)
	}
	return assets, nil
}

// Transition applies a status change after validating it against the
// lifecycle table. Rejected transitions leave the stored record untouched.
func (r *AssetRepositoryMem) Transition(ctx context.Context, assetID string, next domain.AssetStatus, payload domain.TransitionPayload) (*domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, ok := r.assets[assetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !asset.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s (asset %s)", domain.ErrInvalidTransition, asset.Status, next, assetID)
	}
	asset.Status = next
	switch next {
	case domain.AssetStatusCompleted:
		asset.ResultRef = payload.ResultRef
	case domain.AssetStatusFailed:
		asset.ErrorDetail = payload.ErrorDetail
	}
	if payload.RetryCount > asset.RetryCount {
		asset.RetryCount = payload.RetryCount
	}
	asset.UpdatedAt = time.Now().UTC()

	copied := *asset
	return &copied, nil
}

// GetAsset fetches a single asset by id.
func (r *AssetRepositoryMem) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, ok := r.assets[assetID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *asset
	return &copied, nil
}

// GetBatchSnapshot returns a point-in-time copy of every asset in the batch.
func (r *AssetRepositoryMem) GetBatchSnapshot(ctx context.Context, batchID string) ([]domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, ok := r.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	// ids preserve insertion order, so the snapshot is already in
	// creation order.
	assets := make([]domain.Asset, 0, len(ids))
	for _, id := range ids {
		if asset, ok := r.assets[id]; ok {
			assets = append(assets, *asset)
		}
	}
	return assets, nil
}

var _ domain.AssetRepository = (*AssetRepositoryMem)(nil)
