// Package orchestrator coordinates the generation pipeline: credit-gated
// admission, prompt acquisition, item creation, bounded fan-out to the image
// capability, per-item state transitions and progress publishing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/square-1111/LogoKraft/internal/domain"
	"github.com/square-1111/LogoKraft/internal/progress"
	"github.com/square-1111/LogoKraft/internal/providers/image"
	"github.com/square-1111/LogoKraft/internal/providers/prompt"
	"github.com/square-1111/LogoKraft/internal/storage"
)

// Config tunes pipeline behavior. Zero values fall back to the defaults
// below.
type Config struct {
	MaxItemsPerBatch  int
	RefinementItems   int
	RefinementCost    int
	RenderMaxAttempts int
	RetryBackoff      time.Duration
	BatchDeadline     time.Duration
}

const (
	defaultMaxItemsPerBatch  = 15
	defaultRefinementItems   = 5
	defaultRefinementCost    = 1
	defaultRenderMaxAttempts = 2
	defaultRetryBackoff      = 2 * time.Second
	defaultBatchDeadline     = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.MaxItemsPerBatch <= 0 {
		c.MaxItemsPerBatch = defaultMaxItemsPerBatch
	}
	if c.RefinementItems <= 0 {
		c.RefinementItems = defaultRefinementItems
	}
	if c.RefinementCost <= 0 {
		c.RefinementCost = defaultRefinementCost
	}
	if c.RenderMaxAttempts <= 0 {
		c.RenderMaxAttempts = defaultRenderMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.BatchDeadline <= 0 {
		c.BatchDeadline = defaultBatchDeadline
	}
	return c
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Assets         domain.AssetRepository
	Ledger         domain.CreditLedger
	Prompts        prompt.Generator
	Images         image.Generator
	Hub            *progress.Hub
	Limiter        *Limiter
	Files          *storage.FileStore
	StorageBaseURL string
	Logger         zerolog.Logger
	Config         Config
}

// Orchestrator owns the creation and transition of every item in the
// batches it starts. No other component mutates item status.
type Orchestrator struct {
	assets  domain.AssetRepository
	ledger  domain.CreditLedger
	prompts prompt.Generator
	images  image.Generator
	hub     *progress.Hub
	limiter *Limiter
	files   *storage.FileStore
	baseURL string
	logger  zerolog.Logger
	cfg     Config

	rootCtx context.Context
	cancel  context.CancelFunc
	batches sync.WaitGroup
}

// New validates the wiring and returns a ready orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Assets == nil {
		return nil, errors.New("orchestrator: asset repository is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("orchestrator: credit ledger is required")
	}
	if opts.Prompts == nil {
		return nil, errors.New("orchestrator: prompt generator is required")
	}
	if opts.Images == nil {
		return nil, errors.New("orchestrator: image generator is required")
	}
	if opts.Hub == nil {
		return nil, errors.New("orchestrator: progress hub is required")
	}
	if opts.Limiter == nil {
		opts.Limiter = NewLimiter(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		assets:  opts.Assets,
		ledger:  opts.Ledger,
		prompts: opts.Prompts,
		images:  opts.Images,
		hub:     opts.Hub,
		limiter: opts.Limiter,
		files:   opts.Files,
		baseURL: strings.TrimRight(opts.StorageBaseURL, "/"),
		logger:  opts.Logger,
		cfg:     opts.Config.withDefaults(),
		rootCtx: ctx,
		cancel:  cancel,
	}, nil
}

// StartRequest describes one triggering call.
type StartRequest struct {
	OwnerID       string
	ProjectID     string
	Brief         domain.Brief
	ItemCount     int
	CostPerItem   int
	ParentAssetID string
}

// StartBatch admits a generation request and, on success, launches the batch
// in the background. It returns once the batch id is known; progress is
// observed through the hub or the snapshot endpoint. Admission failures
// (insufficient credits, invalid brief, prompt capability failure) perform
// no generation work and leave the owner's balance as it was.
func (o *Orchestrator) StartBatch(ctx context.Context, req StartRequest) (string, error) {
	if req.OwnerID == "" {
		return "", errors.New("owner id is required")
	}
	if req.ItemCount <= 0 {
		return "", fmt.Errorf("item count must be positive, got %d", req.ItemCount)
	}
	if err := req.Brief.Validate(); err != nil {
		return "", err
	}
	if req.ItemCount > o.cfg.MaxItemsPerBatch {
		req.ItemCount = o.cfg.MaxItemsPerBatch
	}

	reason := domain.CreditReasonGeneration
	if req.ParentAssetID != "" {
		reason = domain.CreditReasonRefinement
	}
	cost := req.CostPerItem * req.ItemCount
	if cost > 0 {
		if err := o.ledger.CheckAndDeduct(ctx, req.OwnerID, cost, reason, req.ParentAssetID); err != nil {
			return "", err
		}
	}

	prompts, err := o.prompts.Generate(ctx, req.Brief, req.ItemCount)
	if err == nil && len(prompts) != req.ItemCount {
		err = fmt.Errorf("%w: want %d, got %d", domain.ErrPromptCount, req.ItemCount, len(prompts))
	}
	if err != nil {
		o.refund(req.OwnerID, cost, req.ParentAssetID)
		return "", fmt.Errorf("generate prompts: %w", err)
	}

	batch := &domain.Batch{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		OwnerID:   req.OwnerID,
	}
	assets, err := o.assets.CreateBatch(ctx, batch, prompts, req.ParentAssetID)
	if err != nil {
		o.refund(req.OwnerID, cost, req.ParentAssetID)
		return "", fmt.Errorf("create batch: %w", err)
	}

	o.logger.Info().
		Str("batch_id", batch.ID).
		Str("owner_id", req.OwnerID).
		Int("items", len(assets)).
		Msg("orchestrator: batch admitted")

	run := newBatchRun(batch.ID, len(assets))
	o.hub.Emit(run.event(domain.EventBatchStarted, nil))

	o.batches.Add(1)
	go o.runBatch(run, assets)

	return batch.ID, nil
}

// StartRefinement creates a fresh batch of variations derived from a
// completed asset. The source item is never resurrected; each variation
// references it as parent.
func (o *Orchestrator) StartRefinement(ctx context.Context, ownerID, assetID, direction string) (string, error) {
	parent, err := o.assets.GetAsset(ctx, assetID)
	if err != nil {
		return "", err
	}
	if parent.Status != domain.AssetStatusCompleted {
		return "", fmt.Errorf("%w: asset %s is %s", domain.ErrNotRefinable, assetID, parent.Status)
	}
	if strings.TrimSpace(direction) == "" {
		direction = "professional design refinement and enhancement"
	}
	brief := domain.Brief{
		Industry:    "logo refinement",
		Description: fmt.Sprintf("Create a distinct variation of this logo concept: %s. Direction: %s", parent.Prompt, direction),
	}
	return o.StartBatch(ctx, StartRequest{
		OwnerID:       ownerID,
		ProjectID:     parent.ProjectID,
		Brief:         brief,
		ItemCount:     o.cfg.RefinementItems,
		CostPerItem:   o.cfg.RefinementCost,
		ParentAssetID: parent.ID,
	})
}

// Shutdown stops admitting work on running batches and waits for them to
// settle or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.batches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) refund(ownerID string, amount int, ref string) {
	if amount <= 0 {
		return
	}
	// Refund uses the root context: an admission refund must land even if
	// the request context is already gone.
	if err := o.ledger.Refund(o.rootCtx, ownerID, amount, domain.CreditReasonRefund, ref); err != nil {
		o.logger.Error().Err(err).
			Str("owner_id", ownerID).
			Int("amount", amount).
			Msg("orchestrator: admission refund failed")
	}
}

// batchRun tracks terminal counts for one in-flight batch. Counts feed the
// progress events; the final snapshot is authoritative for batch_complete.
type batchRun struct {
	batchID string
	total   int

	mu        sync.Mutex
	completed int
	failed    int
}

func newBatchRun(batchID string, total int) *batchRun {
	return &batchRun{batchID: batchID, total: total}
}

func (r *batchRun) record(status domain.AssetStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch status {
	case domain.AssetStatusCompleted:
		r.completed++
	case domain.AssetStatusFailed:
		r.failed++
	}
}

func (r *batchRun) event(t domain.ProgressEventType, asset *domain.Asset) domain.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := domain.ProgressEvent{
		Type:           t,
		BatchID:        r.batchID,
		CompletedCount: r.completed,
		FailedCount:    r.failed,
		TotalCount:     r.total,
		Timestamp:      time.Now().UTC(),
	}
	if asset != nil {
		ev.AssetID = asset.ID
		ev.Status = asset.Status
		ev.ResultRef = asset.ResultRef
		ev.Error = asset.ErrorDetail
	}
	return ev
}

func (o *Orchestrator) runBatch(run *batchRun, assets []domain.Asset) {
	defer o.batches.Done()

	ctx, cancel := context.WithTimeout(o.rootCtx, o.cfg.BatchDeadline)
	defer cancel()

	var tasks sync.WaitGroup
	for i := range assets {
		asset := assets[i]
		tasks.Add(1)
		go func() {
			defer tasks.Done()
			if err := o.limiter.Run(ctx, func() { o.processItem(ctx, run, asset) }); err != nil {
				// Deadline hit while waiting for a slot; the item
				// never started generating.
				o.failItem(run, asset.ID, "batch deadline exceeded before generation started", 0)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn().
			Str("batch_id", run.batchID).
			Dur("deadline", o.cfg.BatchDeadline).
			Msg("orchestrator: batch deadline exceeded")
		// In-flight renders observe the cancellation and settle; wait
		// for them so batch_complete stays the last event.
		<-done
	}

	// Every task has returned. Anything still non-terminal lost its claim
	// transition or outlived the deadline; settle it so batch_complete
	// never leaves an item without a terminal status.
	o.reapStragglers(ctx, run)
	o.completeBatch(run)
}

// processItem drives one asset to a terminal state. Failures here never
// affect sibling items.
func (o *Orchestrator) processItem(ctx context.Context, run *batchRun, asset domain.Asset) {
	logger := o.logger.With().
		Str("batch_id", run.batchID).
		Str("asset_id", asset.ID).
		Logger()

	claimed, err := o.assets.Transition(ctx, asset.ID, domain.AssetStatusGenerating, domain.TransitionPayload{})
	if err != nil {
		// Already force-failed, or the store is unreachable. The
		// end-of-batch reap settles anything this leaves non-terminal.
		logger.Debug().Err(err).Msg("orchestrator: item not claimable")
		return
	}
	o.hub.Emit(run.event(domain.EventStateChanged, claimed))

	attempts := 0
	var resultRef string
	var lastErr error
	for attempts < o.cfg.RenderMaxAttempts {
		attempts++
		res, err := o.images.Render(ctx, image.RenderRequest{AssetID: asset.ID, Prompt: asset.Prompt})
		if err == nil {
			resultRef, err = o.persistResult(ctx, run.batchID, asset.ID, res)
		}
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempts).Msg("orchestrator: render attempt failed")
		if ctx.Err() != nil {
			break
		}
		if attempts < o.cfg.RenderMaxAttempts {
			select {
			case <-time.After(time.Duration(attempts) * o.cfg.RetryBackoff):
			case <-ctx.Done():
			}
		}
	}

	if lastErr != nil {
		detail := lastErr.Error()
		if ctx.Err() != nil {
			detail = "batch deadline exceeded: " + detail
		}
		o.failItem(run, asset.ID, detail, attempts-1)
		return
	}

	// Terminal writes use the root context so a deadline that fires
	// between render and record cannot strand the item in generating.
	completed, err := o.assets.Transition(o.rootCtx, asset.ID, domain.AssetStatusCompleted, domain.TransitionPayload{
		ResultRef:  resultRef,
		RetryCount: attempts - 1,
	})
	if err != nil {
		logger.Error().Err(err).Msg("orchestrator: completed transition rejected")
		return
	}
	run.record(domain.AssetStatusCompleted)
	o.hub.Emit(run.event(domain.EventStateChanged, completed))
	logger.Info().Str("result_ref", resultRef).Msg("orchestrator: item completed")
}

func (o *Orchestrator) failItem(run *batchRun, assetID, detail string, retries int) {
	failed, err := o.assets.Transition(o.rootCtx, assetID, domain.AssetStatusFailed, domain.TransitionPayload{
		ErrorDetail: detail,
		RetryCount:  retries,
	})
	if err != nil {
		// Losing the race to another terminal transition is fine; an
		// invariant violation would be a programming error and is
		// logged as such by the store caller.
		o.logger.Debug().Err(err).Str("asset_id", assetID).Msg("orchestrator: failed transition rejected")
		return
	}
	run.record(domain.AssetStatusFailed)
	o.hub.Emit(run.event(domain.EventStateChanged, failed))
}

// reapStragglers force-fails anything left non-terminal after every task
// has returned. Terminal rows reject the transition, so racing a late
// completion is harmless.
func (o *Orchestrator) reapStragglers(ctx context.Context, run *batchRun) {
	snapshot, err := o.assets.GetBatchSnapshot(o.rootCtx, run.batchID)
	if err != nil {
		o.logger.Error().Err(err).Str("batch_id", run.batchID).Msg("orchestrator: reap snapshot failed")
		return
	}
	detail := "item never reached a terminal state"
	if ctx.Err() != nil {
		detail = "batch deadline exceeded"
	}
	for _, asset := range snapshot {
		if asset.Status.IsTerminal() {
			continue
		}
		o.failItem(run, asset.ID, detail, asset.RetryCount)
	}
}

// completeBatch emits the single batch_complete event and closes the feed.
// The snapshot is authoritative for the final counts.
func (o *Orchestrator) completeBatch(run *batchRun) {
	snapshot, err := o.assets.GetBatchSnapshot(o.rootCtx, run.batchID)
	if err == nil {
		run.mu.Lock()
		run.completed = 0
		run.failed = 0
		for _, asset := range snapshot {
			switch asset.Status {
			case domain.AssetStatusCompleted:
				run.completed++
			case domain.AssetStatusFailed:
				run.failed++
			}
		}
		run.mu.Unlock()
	} else {
		o.logger.Error().Err(err).Str("batch_id", run.batchID).Msg("orchestrator: final snapshot failed")
	}

	ev := run.event(domain.EventBatchComplete, nil)
	o.hub.Emit(ev)
	o.hub.CloseBatch(run.batchID)
	o.logger.Info().
		Str("batch_id", run.batchID).
		Int("completed", ev.CompletedCount).
		Int("failed", ev.FailedCount).
		Int("total", ev.TotalCount).
		Msg("orchestrator: batch complete")
}

// persistResult stores rendered bytes locally when a file store is
// configured, otherwise passes the provider URL through.
func (o *Orchestrator) persistResult(ctx context.Context, batchID, assetID string, res *image.RenderResult) (string, error) {
	if res == nil {
		return "", errors.New("empty render result")
	}
	if len(res.Data) > 0 && o.files != nil {
		key := fmt.Sprintf("generated/%s/%s%s", batchID, assetID, extensionForMIME(res.MIME))
		savedKey, err := o.files.Write(ctx, key, res.Data)
		if err != nil {
			return "", fmt.Errorf("persist render: %w", err)
		}
		if o.baseURL != "" {
			return o.baseURL + "/" + savedKey, nil
		}
		return savedKey, nil
	}
	if res.URL != "" {
		return res.URL, nil
	}
	return "", errors.New("render result carries neither bytes nor url")
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
