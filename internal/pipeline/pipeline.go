package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"igharvest/internal/extract"
	"igharvest/pkg/checkpoint"
	"igharvest/pkg/config"
	"igharvest/pkg/logger"
	"igharvest/pkg/models"
)

// Session is the part of session.Service the pipeline reads through.
type Session interface {
	GetProfile(ctx context.Context, username string) (*models.Profile, error)
	GetPost(ctx context.Context, shortcode string) (*models.Post, error)
	GetPostMedia(ctx context.Context, shortcode string) ([]models.MediaItem, error)
	FetchPostItem(ctx context.Context, item models.MediaItem) (*models.Media, error)
	GetStories(ctx context.Context, username string) ([]models.MediaItem, error)
	FetchStoryItem(ctx context.Context, item models.MediaItem) (*models.Media, error)
}

// Extractor turns an image into products.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) []models.Product
}

// ProductStore persists products.
type ProductStore interface {
	UpsertProduct(ctx context.Context, p *models.Product) error
}

// SnapshotStore appends fetched metadata.
type SnapshotStore interface {
	SaveProfileSnapshot(ctx context.Context, username string, data json.RawMessage) error
	SavePostSnapshot(ctx context.Context, shortcode string, data json.RawMessage) error
}

// Archive keeps a copy of fetched media on disk.
type Archive interface {
	IsArchived(target, mediaID string) bool
	Save(target, sourceID string, item models.MediaItem, media *models.Media, digest string) (string, error)
}

// Recorder receives the summary of every finished batch.
type Recorder interface {
	RecordRun(Summary)
}

// Options configures a Pipeline.
type Options struct {
	Session   Session
	Extractor Extractor
	Products  ProductStore
	// Snapshots is required only when SnapshotTargets is set
	Snapshots SnapshotStore
	// Archive is optional
	Archive  Archive
	Recorder Recorder

	Targets         []string
	SnapshotTargets []string
	MarketHint      string
	IncludeVideos   bool
	// Resume records progress in a checkpoint under CheckpointDir and
	// skips targets a previous interrupted batch completed
	Resume        bool
	CheckpointDir string

	Logger logger.Logger
}

// OptionsFromConfig fills targets and behaviour flags from the pipeline
// section; collaborators are left for the caller.
func OptionsFromConfig(cfg config.PipelineConfig, log logger.Logger) Options {
	return Options{
		Targets:         cfg.Targets,
		SnapshotTargets: cfg.SnapshotTargets,
		MarketHint:      cfg.MarketHint,
		IncludeVideos:   cfg.IncludeVideos,
		Resume:          cfg.Resume,
		CheckpointDir:   cfg.CheckpointDir,
		Logger:          log,
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(Summary) {}

// Pipeline runs extraction batches over its targets, one target and one
// item at a time. Batches never overlap.
type Pipeline struct {
	session   Session
	extractor Extractor
	products  ProductStore
	snapshots SnapshotStore
	archive   Archive
	recorder  Recorder

	targets         []Target
	snapshotTargets []Target
	marketHint      string
	includeVideos   bool
	resume          bool
	checkpointDir   string

	logger logger.Logger

	mu      sync.Mutex
	lastRun *Summary
}

// New validates opts and creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Session == nil {
		return nil, errors.New("pipeline requires a session")
	}
	if opts.Extractor == nil {
		return nil, errors.New("pipeline requires an extractor")
	}
	if opts.Products == nil {
		return nil, errors.New("pipeline requires a product store")
	}
	snapshotTargets := ParseTargets(opts.SnapshotTargets)
	if len(snapshotTargets) > 0 && opts.Snapshots == nil {
		return nil, errors.New("snapshot targets require a snapshot store")
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}

	return &Pipeline{
		session:         opts.Session,
		extractor:       opts.Extractor,
		products:        opts.Products,
		snapshots:       opts.Snapshots,
		archive:         opts.Archive,
		recorder:        opts.Recorder,
		targets:         ParseTargets(opts.Targets),
		snapshotTargets: snapshotTargets,
		marketHint:      opts.MarketHint,
		includeVideos:   opts.IncludeVideos,
		resume:          opts.Resume,
		checkpointDir:   opts.CheckpointDir,
		logger:          opts.Logger.WithField("component", "pipeline"),
	}, nil
}

// LastRun returns the summary of the last finished batch, if any.
func (p *Pipeline) LastRun() (Summary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastRun == nil {
		return Summary{}, false
	}
	return *p.lastRun, true
}

// RunOnce processes every target and snapshot target once. A failure of
// one target or item is logged and the batch continues. Cancelling ctx
// stops the batch after the item in progress.
func (p *Pipeline) RunOnce(ctx context.Context) Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	sum := Summary{StartedAt: time.Now(), Targets: len(p.targets)}
	p.logger.InfoWithFields("Starting extraction batch", map[string]interface{}{
		"targets":          len(p.targets),
		"snapshot_targets": len(p.snapshotTargets),
	})

	cpm, cp := p.openCheckpoint()

	for _, t := range p.targets {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		if cp != nil && cp.IsCompleted(t.Raw) {
			sum.TargetsSkipped++
			p.logger.DebugWithFields("Target already completed, skipping", map[string]interface{}{"target": t.Raw})
			continue
		}

		itemsBefore := sum.ItemsOK
		done, ok := p.processTarget(ctx, t, &sum)
		if !ok {
			sum.TargetsFailed++
			continue
		}
		if !done {
			sum.Interrupted = true
			break
		}
		sum.TargetsOK++
		if cp != nil {
			if err := cpm.MarkCompleted(cp, t.Raw, sum.ItemsOK-itemsBefore); err != nil {
				p.logger.WarnWithFields("Failed to update checkpoint", map[string]interface{}{
					"target": t.Raw,
					"error":  err.Error(),
				})
			}
		}
	}

	if !sum.Interrupted {
		p.snapshot(ctx, &sum)
	}

	if cpm != nil && !sum.Interrupted {
		if err := cpm.Delete(); err != nil {
			p.logger.WarnWithFields("Failed to delete checkpoint", map[string]interface{}{"error": err.Error()})
		}
	}

	sum.FinishedAt = time.Now()
	p.lastRun = &sum
	p.recorder.RecordRun(sum)
	p.logger.InfoWithFields("Extraction batch finished", sum.fields())
	return sum
}

func (p *Pipeline) openCheckpoint() (*checkpoint.Manager, *checkpoint.Checkpoint) {
	if !p.resume || len(p.targets) == 0 {
		return nil, nil
	}
	id := batchID(p.targets)
	cpm, err := checkpoint.NewManager(p.checkpointDir, id, p.logger)
	if err == nil {
		var cp *checkpoint.Checkpoint
		if cp, err = cpm.LoadOrCreate(id, rawTargets(p.targets)); err == nil {
			if len(cp.Completed) > 0 {
				p.logger.InfoWithFields("Resuming batch from checkpoint", map[string]interface{}{
					"batch_id":  id,
					"completed": len(cp.Completed),
					"remaining": cp.Remaining(),
				})
			}
			return cpm, cp
		}
	}
	p.logger.WarnWithFields("Checkpointing disabled for this batch", map[string]interface{}{
		"batch_id": id,
		"error":    err.Error(),
	})
	return nil, nil
}

// processTarget lists the media of t and extracts each item. ok is false
// when the listing failed; done is false when ctx stopped the target early.
func (p *Pipeline) processTarget(ctx context.Context, t Target, sum *Summary) (done, ok bool) {
	log := p.logger.WithField("target", t.Raw)

	var (
		items []models.MediaItem
		fetch func(context.Context, models.MediaItem) (*models.Media, error)
		kind  string
		err   error
	)
	if t.IsPost() {
		kind = models.SourcePost
		fetch = p.session.FetchPostItem
		items, err = p.session.GetPostMedia(ctx, t.Shortcode)
	} else {
		kind = models.SourceStory
		fetch = p.session.FetchStoryItem
		items, err = p.session.GetStories(ctx, t.Account)
	}
	if err != nil {
		log.ErrorWithFields("Failed to list media for target", map[string]interface{}{"error": err.Error()})
		return false, false
	}

	log.InfoWithFields("Processing target", map[string]interface{}{
		"kind":  kind,
		"items": len(items),
	})

	for i, item := range items {
		if ctx.Err() != nil {
			return false, true
		}
		sourceID := fmt.Sprintf("%s:%d", t.Key(), i+1)
		if item.IsVideo && !p.includeVideos {
			sum.ItemsSkipped++
			log.DebugWithFields("Skipping video item", map[string]interface{}{"source_id": sourceID})
			continue
		}
		p.processItem(ctx, t, kind, sourceID, item, fetch, sum)
	}
	return true, true
}

func (p *Pipeline) processItem(ctx context.Context, t Target, kind, sourceID string, item models.MediaItem,
	fetch func(context.Context, models.MediaItem) (*models.Media, error), sum *Summary) {
	fields := map[string]interface{}{
		"target":    t.Raw,
		"source_id": sourceID,
		"media_id":  item.ID,
	}

	media, err := fetch(ctx, item)
	if err != nil {
		sum.ItemsFailed++
		fields["error"] = err.Error()
		p.logger.ErrorWithFields("Failed to fetch media item", fields)
		return
	}
	sum.ItemsOK++

	// the item in flight finishes even when shutdown was requested
	workCtx := context.WithoutCancel(ctx)

	if p.archive != nil && !p.archive.IsArchived(t.Key(), item.ID) {
		digest := fmt.Sprintf("%016x", xxhash.Sum64(media.Content))
		if _, err := p.archive.Save(t.Key(), sourceID, item, media, digest); err != nil {
			p.logger.WarnWithFields("Failed to archive media", withError(fields, err))
		}
	}

	account := item.Owner
	if account == "" {
		account = t.Account
	}
	products := p.extractor.Extract(workCtx, extract.Request{
		Image:      media.Content,
		SourceKind: kind,
		SourceID:   sourceID,
		Meta: extract.Metadata{
			Account:    account,
			Shortcode:  item.Shortcode,
			TakenAt:    item.TakenAt,
			Locator:    item.Locator,
			MarketHint: p.marketHint,
		},
	})

	for i := range products {
		if err := p.products.UpsertProduct(workCtx, &products[i]); err != nil {
			sum.ProductsFailed++
			f := withError(fields, err)
			f["product_id"] = products[i].ID
			p.logger.ErrorWithFields("Failed to store product", f)
			continue
		}
		sum.ProductsStored++
	}

	p.logger.DebugWithFields("Media item processed", map[string]interface{}{
		"source_id": sourceID,
		"products":  len(products),
	})
}

func withError(fields map[string]interface{}, err error) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
