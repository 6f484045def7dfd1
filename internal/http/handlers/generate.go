package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/square-1111/LogoKraft/internal/domain"
	"github.com/square-1111/LogoKraft/internal/orchestrator"
)

type generateRequest struct {
	Brief       domain.Brief `json:"brief"`
	ItemCount   int          `json:"item_count"`
	CostPerItem int          `json:"cost_per_item"`
}

type refineRequest struct {
	Direction string `json:"direction"`
}

type batchResponse struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

// ProjectGenerate admits a generation batch for the project and returns its
// batch id. Generation continues in the background; progress is observed
// via the snapshot or stream endpoints.
func (a *App) ProjectGenerate(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner context")
		return
	}
	projectID := chi.URLParam(r, "project_id")
	if projectID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "project_id required")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.ItemCount <= 0 {
		req.ItemCount = a.Defaults.ItemsPerBatch
	}
	if req.CostPerItem < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "cost_per_item must not be negative")
		return
	}
	if req.CostPerItem == 0 {
		req.CostPerItem = a.Defaults.GenerationCost
	}

	batchID, err := a.Orchestrator.StartBatch(r.Context(), orchestrator.StartRequest{
		OwnerID:     ownerID,
		ProjectID:   projectID,
		Brief:       req.Brief,
		ItemCount:   req.ItemCount,
		CostPerItem: req.CostPerItem,
	})
	if err != nil {
		a.admissionError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, batchResponse{BatchID: batchID, Status: "started"})
}

// AssetRefine admits a refinement batch derived from a completed asset.
func (a *App) AssetRefine(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing owner context")
		return
	}
	assetID := chi.URLParam(r, "asset_id")
	if assetID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "asset_id required")
		return
	}
	var req refineRequest
	if r.Body != nil {
		// An empty body means automatic refinement.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	batchID, err := a.Orchestrator.StartRefinement(r.Context(), ownerID, assetID, req.Direction)
	if err != nil {
		a.admissionError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, batchResponse{BatchID: batchID, Status: "started"})
}

// BatchSnapshot returns the point-in-time state of every item in a batch,
// enough for a reconnecting client to reconstruct progress.
func (a *App) BatchSnapshot(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	if batchID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "batch_id required")
		return
	}
	snapshot, err := a.Assets.GetBatchSnapshot(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "batch not found")
			return
		}
		a.Logger.Error().Err(err).Str("batch_id", batchID).Msg("handlers: snapshot failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load batch")
		return
	}
	a.json(w, http.StatusOK, snapshotPayload(batchID, snapshot))
}

func (a *App) admissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this request")
	case errors.Is(err, domain.ErrInvalidBrief):
		a.error(w, http.StatusBadRequest, "invalid_brief", "brief needs a company name or description")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "asset not found")
	case errors.Is(err, domain.ErrNotRefinable):
		a.error(w, http.StatusConflict, "not_refinable", "only completed assets can be refined")
	case errors.Is(err, domain.ErrPromptCount), errors.Is(err, domain.ErrProviderFailure):
		a.error(w, http.StatusBadGateway, "prompt_generation_failed", "prompt capability failed, credits refunded")
	default:
		a.Logger.Error().Err(err).Msg("handlers: admission failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start batch")
	}
}

func snapshotPayload(batchID string, assets []domain.Asset) map[string]any {
	items := make([]map[string]any, 0, len(assets))
	counts := map[domain.AssetStatus]int{}
	for _, asset := range assets {
		counts[asset.Status]++
		items = append(items, assetPayload(asset))
	}
	return map[string]any{
		"batch_id":         batchID,
		"total_count":      len(assets),
		"pending_count":    counts[domain.AssetStatusPending],
		"generating_count": counts[domain.AssetStatusGenerating],
		"completed_count":  counts[domain.AssetStatusCompleted],
		"failed_count":     counts[domain.AssetStatusFailed],
		"items":            items,
	}
}

func assetPayload(asset domain.Asset) map[string]any {
	item := map[string]any{
		"id":          asset.ID,
		"batch_id":    asset.BatchID,
		"project_id":  asset.ProjectID,
		"prompt":      asset.Prompt,
		"status":      asset.Status,
		"retry_count": asset.RetryCount,
		"created_at":  asset.CreatedAt,
		"updated_at":  asset.UpdatedAt,
	}
	if asset.ParentAssetID != "" {
		item["parent_asset_id"] = asset.ParentAssetID
	}
	if asset.ResultRef != "" {
		item["result_ref"] = asset.ResultRef
	}
	if asset.ErrorDetail != "" {
		item["error"] = asset.ErrorDetail
	}
	return item
}
