package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/square-1111/LogoKraft/internal/adapter/repo"
	"github.com/square-1111/LogoKraft/internal/domain"
	httpapi "github.com/square-1111/LogoKraft/internal/http"
	"github.com/square-1111/LogoKraft/internal/http/handlers"
	"github.com/square-1111/LogoKraft/internal/infra"
	"github.com/square-1111/LogoKraft/internal/orchestrator"
	"github.com/square-1111/LogoKraft/internal/progress"
	"github.com/square-1111/LogoKraft/internal/providers/image"
	"github.com/square-1111/LogoKraft/internal/providers/prompt"
	"github.com/square-1111/LogoKraft/internal/storage"
)

type apiRig struct {
	handler http.Handler
	assets  *repo.AssetRepositoryMem
	ledger  *repo.CreditLedgerMem
	hub     *progress.Hub
	orch    *orchestrator.Orchestrator
}

// newAPIRig wires the full in-memory stack behind the real router, with the
// deterministic providers standing in for the remote APIs.
func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	return newAPIRigWithImages(t, image.NewSyntheticGenerator(8))
}

func newAPIRigWithImages(t *testing.T, images image.Generator) *apiRig {
	t.Helper()
	assets := repo.NewAssetRepositoryMem()
	ledger := repo.NewCreditLedgerMem()
	hub := progress.NewHub(256, zerolog.Nop())
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("storage.NewFileStore failed: %v", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Assets:  assets,
		Ledger:  ledger,
		Prompts: prompt.NewStaticGenerator(),
		Images:  images,
		Hub:     hub,
		Limiter: orchestrator.NewLimiter(4),
		Files:   files,
		Logger:  zerolog.Nop(),
		Config: orchestrator.Config{
			RetryBackoff:  time.Millisecond,
			BatchDeadline: 10 * time.Second,
		},
	})
	if err != nil {
		t.Fatalf("orchestrator.New failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	app := &handlers.App{
		Orchestrator: orch,
		Assets:       assets,
		Ledger:       ledger,
		Hub:          hub,
		Logger:       zerolog.Nop(),
		Defaults: handlers.Defaults{
			ItemsPerBatch:  15,
			GenerationCost: 0,
			SignupGrant:    20,
		},
	}
	cfg := &infra.Config{
		StoragePath:     t.TempDir(),
		RateLimitPerMin: 1000,
	}
	return &apiRig{
		handler: httpapi.NewRouter(app, cfg),
		assets:  assets,
		ledger:  ledger,
		hub:     hub,
		orch:    orch,
	}
}

func (rig *apiRig) do(t *testing.T, method, path, owner, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)

	payload := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	return rec, payload
}

// waitForBatch polls the snapshot endpoint until every item is terminal.
func (rig *apiRig) waitForBatch(t *testing.T, owner, batchID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec, payload := rig.do(t, http.MethodGet, "/v1/batches/"+batchID, owner, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("snapshot status = %d: %s", rec.Code, rec.Body.String())
		}
		pending, _ := payload["pending_count"].(float64)
		generating, _ := payload["generating_count"].(float64)
		if pending == 0 && generating == 0 {
			return payload
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch %s never settled", batchID)
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	rec, payload := rig.do(t, http.MethodGet, "/v1/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if payload["status"] != "ok" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestGenerationFlow(t *testing.T) {
	rig := newAPIRig(t)

	// Signup grants the starting balance.
	rec, payload := rig.do(t, http.MethodPost, "/v1/signup", "owner-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("signup status = %d: %s", rec.Code, rec.Body.String())
	}
	if payload["granted"] != true || payload["balance"].(float64) != 20 {
		t.Fatalf("signup payload = %v", payload)
	}

	body := `{"brief":{"company_name":"Acme Coffee","industry":"food"},"item_count":6,"cost_per_item":1}`
	rec, payload = rig.do(t, http.MethodPost, "/v1/projects/project-1/generate", "owner-1", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate status = %d: %s", rec.Code, rec.Body.String())
	}
	batchID, _ := payload["batch_id"].(string)
	if batchID == "" {
		t.Fatalf("no batch_id in response: %v", payload)
	}

	final := rig.waitForBatch(t, "owner-1", batchID)
	if final["completed_count"].(float64) != 6 || final["failed_count"].(float64) != 0 {
		t.Fatalf("final snapshot = %v", final)
	}
	items := final["items"].([]any)
	if len(items) != 6 {
		t.Fatalf("snapshot has %d items, want 6", len(items))
	}
	for _, raw := range items {
		item := raw.(map[string]any)
		if item["status"] != "completed" || item["result_ref"] == nil {
			t.Fatalf("item not completed: %v", item)
		}
	}

	// 20 - 6*1 = 14 left, with grant and deduction on the audit trail.
	rec, payload = rig.do(t, http.MethodGet, "/v1/credits", "owner-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("credits status = %d", rec.Code)
	}
	if payload["balance"].(float64) != 14 {
		t.Fatalf("balance = %v, want 14", payload["balance"])
	}
	txs := payload["transactions"].([]any)
	if len(txs) != 2 {
		t.Fatalf("transaction count = %d, want 2", len(txs))
	}
}

func TestGenerateRequiresOwnerHeader(t *testing.T) {
	rig := newAPIRig(t)
	rec, _ := rig.do(t, http.MethodPost, "/v1/projects/project-1/generate", "", `{"brief":{"company_name":"Acme"}}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGenerateInsufficientCredits(t *testing.T) {
	rig := newAPIRig(t)
	// No signup: zero balance, any positive cost must be rejected.
	body := `{"brief":{"company_name":"Acme"},"item_count":5,"cost_per_item":1}`
	rec, payload := rig.do(t, http.MethodPost, "/v1/projects/project-1/generate", "owner-1", body)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	if payload["error"] != "insufficient_credits" {
		t.Fatalf("error code = %v", payload["error"])
	}
}

func TestGenerateRejectsInvalidBrief(t *testing.T) {
	rig := newAPIRig(t)
	rec, _ := rig.do(t, http.MethodPost, "/v1/projects/project-1/generate", "owner-1", `{"brief":{"industry":"tech"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSignupIsIdempotent(t *testing.T) {
	rig := newAPIRig(t)

	rec, payload := rig.do(t, http.MethodPost, "/v1/signup", "owner-1", "")
	if rec.Code != http.StatusOK || payload["granted"] != true {
		t.Fatalf("first signup = %d %v", rec.Code, payload)
	}
	rec, payload = rig.do(t, http.MethodPost, "/v1/signup", "owner-1", "")
	if rec.Code != http.StatusOK || payload["granted"] != false {
		t.Fatalf("second signup = %d %v", rec.Code, payload)
	}
	if payload["balance"].(float64) != 20 {
		t.Fatalf("balance after double signup = %v, want 20", payload["balance"])
	}
}

func TestRefineRejectsNonCompletedAsset(t *testing.T) {
	rig := newAPIRig(t)
	rig.do(t, http.MethodPost, "/v1/signup", "owner-1", "")

	batch := &domain.Batch{ProjectID: "project-1", OwnerID: "owner-1"}
	assets, err := rig.assets.CreateBatch(context.Background(), batch, []string{"concept"}, "")
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	rec, payload := rig.do(t, http.MethodPost, "/v1/assets/"+assets[0].ID+"/refine", "owner-1", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if payload["error"] != "not_refinable" {
		t.Fatalf("error code = %v", payload["error"])
	}
}

func TestRefineFlow(t *testing.T) {
	rig := newAPIRig(t)
	rig.do(t, http.MethodPost, "/v1/signup", "owner-1", "")

	ctx := context.Background()
	batch := &domain.Batch{ProjectID: "project-1", OwnerID: "owner-1"}
	assets, _ := rig.assets.CreateBatch(ctx, batch, []string{"concept"}, "")
	parentID := assets[0].ID
	_, _ = rig.assets.Transition(ctx, parentID, domain.AssetStatusGenerating, domain.TransitionPayload{})
	_, _ = rig.assets.Transition(ctx, parentID, domain.AssetStatusCompleted, domain.TransitionPayload{ResultRef: "http://x/p.png"})

	rec, payload := rig.do(t, http.MethodPost, "/v1/assets/"+parentID+"/refine", "owner-1", `{"direction":"more minimalist"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("refine status = %d: %s", rec.Code, rec.Body.String())
	}
	batchID := payload["batch_id"].(string)

	final := rig.waitForBatch(t, "owner-1", batchID)
	if final["total_count"].(float64) != 5 {
		t.Fatalf("refinement batch size = %v, want 5", final["total_count"])
	}
	for _, raw := range final["items"].([]any) {
		item := raw.(map[string]any)
		if item["parent_asset_id"] != parentID {
			t.Fatalf("variation missing parent reference: %v", item)
		}
	}
}

func TestBatchSnapshotNotFound(t *testing.T) {
	rig := newAPIRig(t)
	rec, _ := rig.do(t, http.MethodGet, "/v1/batches/does-not-exist", "owner-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestBatchStreamServesTerminalBatch(t *testing.T) {
	rig := newAPIRig(t)

	ctx := context.Background()
	batch := &domain.Batch{ProjectID: "project-1", OwnerID: "owner-1"}
	assets, _ := rig.assets.CreateBatch(ctx, batch, []string{"a", "b"}, "")
	for _, asset := range assets {
		_, _ = rig.assets.Transition(ctx, asset.ID, domain.AssetStatusGenerating, domain.TransitionPayload{})
		_, _ = rig.assets.Transition(ctx, asset.ID, domain.AssetStatusCompleted, domain.TransitionPayload{ResultRef: "http://x/l.png"})
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/batches/"+batch.ID+"/stream", nil)
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: snapshot") {
		t.Fatalf("stream missing snapshot event: %s", body)
	}
	if !strings.Contains(body, "event: batch_complete") {
		t.Fatalf("stream missing batch_complete event: %s", body)
	}
}

// gatedRenderer holds every render until released, so a test can observe a
// batch mid-flight.
type gatedRenderer struct {
	inner   image.Generator
	release chan struct{}
}

func (g *gatedRenderer) Render(ctx context.Context, req image.RenderRequest) (*image.RenderResult, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Render(ctx, req)
}

func TestBatchStreamTailsLiveBatch(t *testing.T) {
	renderer := &gatedRenderer{inner: image.NewSyntheticGenerator(8), release: make(chan struct{})}
	rig := newAPIRigWithImages(t, renderer)
	rig.do(t, http.MethodPost, "/v1/signup", "owner-1", "")

	body := `{"brief":{"company_name":"Acme"},"item_count":3,"cost_per_item":1}`
	rec, payload := rig.do(t, http.MethodPost, "/v1/projects/project-1/generate", "owner-1", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate status = %d: %s", rec.Code, rec.Body.String())
	}
	batchID := payload["batch_id"].(string)

	// Connect while every render is still held open.
	streamReq := httptest.NewRequest(http.MethodGet, "/v1/batches/"+batchID+"/stream", nil)
	streamRec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		rig.handler.ServeHTTP(streamRec, streamReq)
	}()

	// Release the renders once the stream has subscribed.
	deadline := time.Now().Add(5 * time.Second)
	for rig.hub.SubscriberCount(batchID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed to batch %s", batchID)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(renderer.release)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("stream never ended")
	}

	if streamRec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", streamRec.Code)
	}
	out := streamRec.Body.String()
	snapIdx := strings.Index(out, "event: snapshot")
	completeIdx := strings.Index(out, "event: batch_complete")
	if snapIdx < 0 || completeIdx < 0 || snapIdx > completeIdx {
		t.Fatalf("stream order wrong (snapshot at %d, batch_complete at %d): %s", snapIdx, completeIdx, out)
	}
	// Nothing was terminal when the snapshot was taken.
	snapData := out[snapIdx:]
	if end := strings.Index(snapData, "\n\n"); end >= 0 {
		snapData = snapData[:end]
	}
	if !strings.Contains(snapData, `"completed_count":0`) {
		t.Fatalf("snapshot already shows completions: %s", snapData)
	}
	if !strings.Contains(out, "event: state_changed") {
		t.Fatalf("stream carried no live transitions: %s", out)
	}
	if !strings.Contains(out[completeIdx:], `"completed_count":3`) {
		t.Fatalf("batch_complete counts wrong: %s", out[completeIdx:])
	}
}
