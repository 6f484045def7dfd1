package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/square-1111/LogoKraft/internal/domain"
)

// AssetRepositoryPG implements domain.AssetRepository using PostgreSQL.
// Status transitions are guarded in SQL so the lifecycle table holds even
// when the deadline reaper and an in-flight task race on the same row.
type AssetRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(pool *pgxpool.Pool) *AssetRepositoryPG {
	return &AssetRepositoryPG{pool: pool}
}

// CreateBatch inserts one pending asset per prompt under a fresh batch id.
// The inserts commit together: a failed admission leaves no rows behind.
func (r *AssetRepositoryPG) CreateBatch(ctx context.Context, batch *domain.Batch, prompts []string, parentAssetID string) ([]domain.Asset, error) {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.RequestedCount = len(prompts)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
INSERT INTO generated_assets (id, batch_id, project_id, parent_asset_id, generation_prompt, status, retry_count, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, 0, $7, $7);
`
	assets := make([]domain.Asset, 0, len(prompts))
	for _, prompt := range prompts {
		asset := domain.Asset{
			ID:            uuid.NewString(),
			BatchID:       batch.ID,
			ProjectID:     batch.ProjectID,
			ParentAssetID: parentAssetID,
			Prompt:        prompt,
			Status:        domain.AssetStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if _, err := tx.Exec(ctx, query,
			asset.ID, asset.BatchID, asset.ProjectID, asset.ParentAssetID, asset.Prompt, asset.Status, now,
		); err != nil {
			return nil, fmt.Errorf("insert asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return assets, nil
}

// Transition applies a status change guarded by the current status. A row
// that exists but does not permit the move yields ErrInvalidTransition.
func (r *AssetRepositoryPG) Transition(ctx context.Context, assetID string, next domain.AssetStatus, payload domain.TransitionPayload) (*domain.Asset, error) {
	query := `
UPDATE generated_assets
SET status = $2,
    asset_url = CASE WHEN $2 = 'completed' THEN $3 ELSE asset_url END,
    error_message = CASE WHEN $2 = 'failed' THEN $4 ELSE error_message END,
    retry_count = GREATEST(retry_count, $5),
    updated_at = NOW()
WHERE id = $1 AND status = ANY($6)
RETURNING id, batch_id, project_id, COALESCE(parent_asset_id, ''), generation_prompt, status, COALESCE(asset_url, ''), COALESCE(error_message, ''), retry_count, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, query,
		assetID, next, payload.ResultRef, payload.ErrorDetail, payload.RetryCount, transitionSources(next),
	)
	asset, err := scanAsset(row)
	if err == nil {
		return asset, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// No row matched: either the asset is missing or its current status
	// does not permit the move.
	current, getErr := r.GetAsset(ctx, assetID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: %s -> %s (asset %s)", domain.ErrInvalidTransition, current.Status, next, assetID)
}

// GetAsset fetches a single asset by id.
func (r *AssetRepositoryPG) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, batch_id, project_id, COALESCE(parent_asset_id, ''), generation_prompt, status, COALESCE(asset_url, ''), COALESCE(error_message, ''), retry_count, created_at, updated_at
FROM generated_assets
WHERE id = $1;
`, assetID)
	asset, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return asset, err
}

// GetBatchSnapshot returns a point-in-time view of every asset in the batch.
func (r *AssetRepositoryPG) GetBatchSnapshot(ctx context.Context, batchID string) ([]domain.Asset, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, batch_id, project_id, COALESCE(parent_asset_id, ''), generation_prompt, status, COALESCE(asset_url, ''), COALESCE(error_message, ''), retry_count, created_at, updated_at
FROM generated_assets
WHERE batch_id = $1
ORDER BY created_at ASC, id ASC;
`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, domain.ErrNotFound
	}
	return assets, nil
}

// transitionSources lists the statuses a row may currently hold for the
// requested target, per the domain transition table.
func transitionSources(next domain.AssetStatus) []string {
	var sources []string
	for _, from := range []domain.AssetStatus{
		domain.AssetStatusPending,
		domain.AssetStatusGenerating,
	} {
		if from.CanTransition(next) {
			sources = append(sources, string(from))
		}
	}
	return sources
}

func scanAsset(row pgx.Row) (*domain.Asset, error) {
	var asset domain.Asset
	if err := row.Scan(
		&asset.ID,
		&asset.BatchID,
		&asset.ProjectID,
		&asset.ParentAssetID,
		&asset.Prompt,
		&asset.Status,
		&asset.ResultRef,
		&asset.ErrorDetail,
		&asset.RetryCount,
		&asset.CreatedAt,
		&asset.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &asset, nil
}
