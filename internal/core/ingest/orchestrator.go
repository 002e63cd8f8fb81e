// Package ingest drives the full pipeline for a context: enumerate source
// units, extract, chunk, embed, persist, and maintain the vector index,
// while keeping the context's lifecycle status and progress current.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ragline/ragline/internal/core"
	"github.com/ragline/ragline/internal/core/chunker"
	"github.com/ragline/ragline/internal/models"
)

// Config tunes one orchestrator instance.
type Config struct {
	Bucket         string
	BatchSize      int // chunks embedded and written per batch
	ExtractWorkers int // parallel extraction per context
}

type job struct {
	contextID string
	reprocess bool
}

// Orchestrator owns the bounded job queue and the worker pool that processes
// contexts one at a time per worker.
type Orchestrator struct {
	db        core.DbClient
	indexes   core.IndexProvider
	embedder  core.EmbeddingProvider
	extractor core.Extractor
	sources   *Resolver
	cfg       Config
	logger    *slog.Logger

	jobs chan job

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewOrchestrator(
	db core.DbClient,
	indexes core.IndexProvider,
	embedder core.EmbeddingProvider,
	extractor core.Extractor,
	sources *Resolver,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.ExtractWorkers <= 0 {
		cfg.ExtractWorkers = 4
	}
	return &Orchestrator{
		db:        db,
		indexes:   indexes,
		embedder:  embedder,
		extractor: extractor,
		sources:   sources,
		cfg:       cfg,
		logger:    logger,
		jobs:      make(chan job, 64),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool reading from the job queue.
func (o *Orchestrator) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-o.jobs:
					rep, err := o.ProcessOne(ctx, j.contextID, j.reprocess)
					if err != nil {
						o.logger.Error("ingestion failed", "context_id", j.contextID, "error", err)
						continue
					}
					o.logger.Info("ingestion complete",
						"context_id", j.contextID,
						"units", len(rep.Units),
						"succeeded", rep.Succeeded(),
						"chunks", rep.TotalChunks())
				}
			}
		}()
	}
}

// Enqueue schedules a context for initial ingestion. Blocks when the queue
// is full.
func (o *Orchestrator) Enqueue(contextID string) {
	o.jobs <- job{contextID: contextID}
}

// EnqueueReprocess schedules a full re-run for a ready context.
func (o *Orchestrator) EnqueueReprocess(contextID string) {
	o.jobs <- job{contextID: contextID, reprocess: true}
}

// Cancel aborts an in-flight run. Returns false when the context is not
// currently being processed.
func (o *Orchestrator) Cancel(contextID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[contextID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (o *Orchestrator) register(contextID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[contextID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(contextID string) {
	o.mu.Lock()
	delete(o.cancels, contextID)
	o.mu.Unlock()
}

// ProcessOne runs the pipeline for a single context. Exported so tests can
// run the pipeline synchronously without the queue.
func (o *Orchestrator) ProcessOne(ctx context.Context, contextID string, reprocess bool) (rep *Report, err error) {
	kc, err := o.db.GetContextByID(ctx, contextID)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	if kc == nil {
		return nil, fmt.Errorf("context not found: %s", contextID)
	}
	if reprocess && kc.Status != models.StatusReady {
		return nil, fmt.Errorf("context %s is %s; reprocess requires ready", contextID, kc.Status)
	}
	if !reprocess && kc.Status == models.StatusProcessing {
		return nil, fmt.Errorf("context %s is already processing", contextID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.register(contextID, cancel)
	defer o.unregister(contextID)

	// A panic anywhere in the pipeline must not leave the context stuck in
	// processing.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion panic: %v", r)
			_ = o.db.UpdateContextStatus(context.WithoutCancel(ctx), contextID, models.StatusError, err.Error())
		}
	}()

	fail := func(cause error) (*Report, error) {
		_ = o.db.UpdateContextStatus(context.WithoutCancel(ctx), contextID, models.StatusError, cause.Error())
		return rep, cause
	}

	if err := o.db.UpdateContextStatus(runCtx, contextID, models.StatusProcessing, ""); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	units, err := o.sources.Enumerate(runCtx, kc)
	if err != nil {
		return fail(fmt.Errorf("enumerate source: %w", err))
	}

	rep = &Report{}
	drafts, err := o.extractAndChunk(runCtx, kc, units, rep)
	if err != nil {
		return fail(err)
	}
	if rep.Failed() {
		cause := fmt.Errorf("no units ingested: %s", rep.ErrorSummary())
		return fail(cause)
	}

	if err := o.embedAndPersist(runCtx, kc, drafts, reprocess); err != nil {
		return fail(err)
	}

	if err := o.db.UpdateContextProgress(runCtx, contextID, 100); err != nil {
		return fail(fmt.Errorf("finalize progress: %w", err))
	}
	if err := o.db.UpdateContextStatus(runCtx, contextID, models.StatusReady, ""); err != nil {
		return fail(fmt.Errorf("mark ready: %w", err))
	}
	for _, u := range rep.Units {
		if u.Err != nil {
			o.logger.Warn("unit skipped", "context_id", contextID, "origin", u.Origin, "error", u.Err)
		}
	}
	return rep, nil
}

// unitDrafts keeps a unit's chunks attributed to their origin.
type unitDrafts struct {
	origin string
	drafts []core.ChunkDraft
}

// extractAndChunk runs extraction and chunking over all units in parallel.
// Unit-level failures are recorded in the report and do not abort the run;
// only cancellation does. Covers progress 0 through 40.
func (o *Orchestrator) extractAndChunk(ctx context.Context, kc *models.Context, units []core.SourceUnit, rep *Report) ([]unitDrafts, error) {
	results := make([]unitDrafts, len(units))
	errs := make([]error, len(units))

	opts := chunker.Options{
		Strategy: kc.Strategy,
		MaxChars: kc.MaxChunkChars,
		Overlap:  kc.OverlapChars,
		Embed:    o.embedder.EmbedBatch,
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ExtractWorkers)
	for i := range units {
		i := i
		g.Go(func() error {
			unit := units[i]
			ex, err := o.extractor.Extract(gctx, unit)
			if err == nil {
				var drafts []core.ChunkDraft
				drafts, err = chunker.Split(gctx, ex.Text, ex.Meta, opts)
				if err == nil {
					results[i] = unitDrafts{origin: unit.Origin, drafts: drafts}
				}
			}
			errs[i] = err

			mu.Lock()
			done++
			progress := 40 * done / len(units)
			mu.Unlock()
			_ = o.db.UpdateContextProgress(gctx, kc.ID, progress)

			// Per-unit errors stay in the report; only cancellation aborts.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingestion aborted: %w", err)
	}

	for i := range units {
		rep.add(units[i].Origin, len(results[i].drafts), errs[i])
	}

	out := results[:0]
	for _, r := range results {
		if len(r.drafts) > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

// embedAndPersist assigns identities, embeds chunk batches, and writes rows
// and vectors. Initial ingestion writes index entries batch by batch so a
// crash preserves completed batches; reprocess stages every entry and swaps
// the index in one atomic rebuild at the end. Covers progress 40 through 100.
func (o *Orchestrator) embedAndPersist(ctx context.Context, kc *models.Context, units []unitDrafts, reprocess bool) error {
	idx, err := o.indexes.Open(ctx, kc.ID, o.embedder.Dim())
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}

	if err := o.db.DeleteChunksByContext(ctx, kc.ID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if !reprocess {
		if err := idx.DeleteAll(ctx); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}

	var (
		batch     []models.Chunk
		staged    []core.Entry
		total     int
		tokenSum  int
		processed int
	)
	for _, u := range units {
		total += len(u.drafts)
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].Text
		}

		// A failed batch is retried whole inside the adapter; nothing from a
		// batch that ultimately fails is persisted.
		vecs, err := o.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}

		entries := make([]core.Entry, len(batch))
		for i := range batch {
			ch := &batch[i]
			entries[i] = core.Entry{
				ChunkID:  ch.ID,
				Position: ch.Position,
				Source:   ch.Source,
				Text:     ch.Text,
				Vector:   vecs[i],
				Meta: core.ChunkMeta{
					Section:   ch.Section,
					Table:     ch.Table,
					Language:  ch.Language,
					Strategy:  ch.Strategy,
					Oversized: ch.Oversized,
				},
			}
		}

		if err := o.db.InsertChunks(ctx, batch); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
		if reprocess {
			staged = append(staged, entries...)
		} else {
			if _, err := idx.Add(ctx, entries); err != nil {
				return fmt.Errorf("index add: %w", err)
			}
		}

		processed += len(batch)
		batch = batch[:0]
		return o.db.UpdateContextProgress(ctx, kc.ID, 40+60*processed/total)
	}

	for _, u := range units {
		for _, d := range u.drafts {
			tokenSum += d.TokenEstimate
			batch = append(batch, models.Chunk{
				ID:        uuid.NewString(),
				ContextID: kc.ID,
				Source:    u.origin,
				Position:  d.Position,
				Text:      d.Text,
				Section:   d.Section,
				Table:     d.Table,
				Language:  d.Language,
				Strategy:  d.Strategy,
				Oversized: d.Oversized,
				CharLen:   len([]rune(d.Text)),
				Tokens:    d.TokenEstimate,
			})
			if len(batch) == o.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if reprocess {
		if err := idx.Rebuild(ctx, staged); err != nil {
			return fmt.Errorf("index rebuild: %w", err)
		}
	}
	return o.db.UpdateContextTotals(ctx, kc.ID, total, tokenSum)
}

// Delete tears a context down: cancels any in-flight run, drops its index
// and chunk rows, removes uploaded objects, and deletes the record.
func (o *Orchestrator) Delete(ctx context.Context, obj core.ObjectClient, kc *models.Context) error {
	o.Cancel(kc.ID)

	idx, err := o.indexes.Open(ctx, kc.ID, o.embedder.Dim())
	if err == nil {
		if err := idx.DeleteAll(ctx); err != nil {
			return fmt.Errorf("delete index: %w", err)
		}
	}

	if err := o.db.DeleteChunksByContext(ctx, kc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	if kc.SourceKind == models.SourceFiles && obj != nil {
		keys, err := obj.ListKeys(ctx, o.cfg.Bucket, kc.SourcePath)
		if err != nil {
			o.logger.Warn("list objects for delete", "context_id", kc.ID, "error", err)
		}
		for _, key := range keys {
			if err := obj.DeleteFile(ctx, o.cfg.Bucket, key); err != nil {
				o.logger.Warn("delete object", "key", key, "error", err)
			}
		}
	}

	if err := o.db.DeleteContext(ctx, kc.ID); err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	return nil
}
