// Package pipeline orchestrates the discovery, extraction, analysis, and
// upsert stages, checkpointing progress to local storage so every stage
// can be re-run independently and resume where it left off.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/edupipe/edupipe/internal/config"
	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/fetch"
	"github.com/edupipe/edupipe/internal/index"
	"github.com/edupipe/edupipe/internal/searchstore"
	"github.com/edupipe/edupipe/internal/storage"
)

// State is the pipeline's current activity.
type State string

const (
	StateIdle       State = "idle"
	StateIndexing   State = "indexing"
	StateExtracting State = "extracting"
	StateAnalyzing  State = "analyzing"
	StateUpserting  State = "upserting"
	StateDone       State = "done"
)

// Step names an invokable pipeline step.
type Step string

const (
	StepIndex   Step = "index"
	StepExtract Step = "extract"
	StepAnalyze Step = "analyze"
	StepUpsert  Step = "upsert"
	StepAll     Step = "run"
)

// ErrBusy is returned when a step is requested while another is running.
var ErrBusy = errors.New("pipeline busy")

// Indexer enumerates catalog subjects into a resource index.
type Indexer interface {
	Build(ctx context.Context, onlySubjects []string) (*index.ResourceIndex, *index.Report, error)
}

// Extractor turns one indexed resource into a content record.
type Extractor interface {
	Extract(ctx context.Context, rec index.ResourceRecord) (*content.Record, error)
}

// Analyzer enriches content records in place.
type Analyzer interface {
	AnalyzeAll(ctx context.Context, recs []*content.Record, workers int) error
}

// Upserter pushes records to the external search index.
type Upserter interface {
	Upsert(ctx context.Context, recs []*content.Record) (*searchstore.UpsertReport, error)
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Indexer    Indexer
	IndexStore index.Store
	Extractor  Extractor
	Analyzer   Analyzer
	Upserter   Upserter
	Store      *storage.Store
	Config     config.PipelineConfig
	Log        *slog.Logger
}

// Pipeline runs the stages and records each invocation as a run.
type Pipeline struct {
	indexer    Indexer
	indexStore index.Store
	extractor  Extractor
	analyzer   Analyzer
	upserter   Upserter
	store      *storage.Store
	cfg        config.PipelineConfig
	log        *slog.Logger

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	state   State
	running bool
}

// New creates a Pipeline from its dependencies.
func New(deps Deps) *Pipeline {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		indexer:    deps.Indexer,
		indexStore: deps.IndexStore,
		extractor:  deps.Extractor,
		analyzer:   deps.Analyzer,
		upserter:   deps.Upserter,
		store:      deps.Store,
		cfg:        deps.Config,
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
		state:      StateIdle,
	}
}

// State reports the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrBusy
	}
	p.running = true
	return nil
}

func (p *Pipeline) release(s State) {
	p.mu.Lock()
	p.running = false
	p.state = s
	p.mu.Unlock()
}

// Execute runs one step (or the whole sequence for StepAll), records it as
// a run, and returns the finished run. Transient per-item failures are
// tallied in the run summary and queued for retry; permanent ones are
// skipped for good. Only storage failures abort a step.
func (p *Pipeline) Execute(ctx context.Context, step Step, subjects []string) (storage.Run, error) {
	switch step {
	case StepIndex, StepExtract, StepAnalyze, StepUpsert, StepAll:
	default:
		return storage.Run{}, fmt.Errorf("unknown step %q", step)
	}
	if err := p.acquire(); err != nil {
		return storage.Run{}, err
	}

	if p.cfg.RunTimeoutMin > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.RunTimeoutMin)*time.Minute)
		defer cancel()
	}

	run := storage.Run{
		ID:        p.newID(),
		Step:      string(step),
		StartedAt: p.now().UTC(),
	}
	if err := p.store.StartRun(run); err != nil {
		p.release(StateIdle)
		return storage.Run{}, fmt.Errorf("recording run: %w", err)
	}
	p.log.Info("run started", "run_id", run.ID, "step", step)

	var summary storage.RunSummary
	err := p.executeSteps(ctx, step, subjects, &summary)

	status := storage.RunCompleted
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		status = storage.RunCancelled
	case err != nil:
		status = storage.RunFailed
	}
	if ferr := p.store.FinishRun(run.ID, status, summary); ferr != nil && err == nil {
		err = fmt.Errorf("recording run result: %w", ferr)
		status = storage.RunFailed
	}

	if status == storage.RunCompleted {
		p.release(StateDone)
	} else {
		p.release(StateIdle)
	}
	p.log.Info("run finished",
		"run_id", run.ID,
		"step", step,
		"status", status,
		"failures", summary.FailureCount(),
	)

	run.Status = status
	run.Summary = summary
	run.FinishedAt = p.now().UTC()
	return run, err
}

func (p *Pipeline) executeSteps(ctx context.Context, step Step, subjects []string, summary *storage.RunSummary) error {
	steps := []Step{step}
	if step == StepAll {
		steps = []Step{StepIndex, StepExtract, StepAnalyze, StepUpsert}
	}
	for _, s := range steps {
		var err error
		switch s {
		case StepIndex:
			p.setState(StateIndexing)
			err = p.runIndex(ctx, subjects, summary)
		case StepExtract:
			p.setState(StateExtracting)
			err = p.runExtract(ctx, summary)
		case StepAnalyze:
			p.setState(StateAnalyzing)
			err = p.runAnalyze(ctx, summary)
		case StepUpsert:
			p.setState(StateUpserting)
			err = p.runUpsert(ctx, summary)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
	}
	return nil
}

func (p *Pipeline) runIndex(ctx context.Context, subjects []string, summary *storage.RunSummary) error {
	_, report, err := p.indexer.Build(ctx, subjects)
	if err != nil {
		return err
	}
	summary.Indexed = report.Added
	for _, f := range report.Failures {
		p.log.Warn("index bucket failed",
			"subject", f.Subject,
			"age_group", f.AgeGroup,
			"error", f.Err,
		)
		summary.AddFailure(storage.StageIndex)
	}
	return nil
}

func (p *Pipeline) runExtract(ctx context.Context, summary *storage.RunSummary) error {
	idx, err := p.indexStore.Load()
	if err != nil {
		return fmt.Errorf("loading index: %w", err)
	}

	retrying, err := p.retrySet(storage.StageExtract)
	if err != nil {
		return err
	}
	skipped, err := p.store.SkippedSet()
	if err != nil {
		return err
	}

	// Skip records already checkpointed unless they are queued for retry.
	// Permanently failed resources are never picked up again.
	var pending []index.ResourceRecord
	for _, rec := range idx.AllResources() {
		if skipped[rec.ID] {
			continue
		}
		if !retrying[rec.ID] {
			done, err := p.store.HasContentRecord(rec.ID)
			if err != nil {
				return err
			}
			if done {
				continue
			}
		}
		pending = append(pending, rec)
	}
	p.log.Info("extracting", "pending", len(pending), "retrying", len(retrying))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for _, rec := range pending {
		g.Go(func() error {
			if gctx.Err() != nil {
				// Out of time; leave the record queued for the next run.
				return p.store.MarkForRetry(storage.StageExtract, rec.ID, "run interrupted")
			}
			crec, err := p.extractor.Extract(gctx, rec)
			if err != nil {
				if fetch.IsPermanent(err) {
					// Gone for good. Record it and never re-fetch.
					p.log.Warn("resource permanently unavailable", "id", rec.ID, "url", rec.URL, "error", err)
					mu.Lock()
					summary.Skipped++
					mu.Unlock()
					if serr := p.store.MarkSkipped(rec.ID, err.Error()); serr != nil {
						return serr
					}
					return p.store.ClearRetry(storage.StageExtract, rec.ID)
				}
				p.log.Warn("extract failed", "id", rec.ID, "url", rec.URL, "error", err)
				mu.Lock()
				summary.AddFailure(storage.StageExtract)
				mu.Unlock()
				return p.store.MarkForRetry(storage.StageExtract, rec.ID, err.Error())
			}
			if err := p.store.SaveContentRecord(crec); err != nil {
				return fmt.Errorf("checkpointing %s: %w", rec.ID, err)
			}
			if err := p.store.ClearRetry(storage.StageExtract, rec.ID); err != nil {
				return err
			}
			mu.Lock()
			if crec.LowContent {
				summary.LowContent++
			} else {
				summary.Extracted++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pipeline) runAnalyze(ctx context.Context, summary *storage.RunSummary) error {
	recs, err := p.store.ListUnanalyzed(0)
	if err != nil {
		return err
	}
	recs, err = p.appendRetries(recs, storage.StageAnalyze)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	p.log.Info("analyzing", "records", len(recs))

	if err := p.analyzer.AnalyzeAll(ctx, recs, p.workers()); err != nil {
		return err
	}

	for _, rec := range recs {
		if err := p.store.SaveContentRecord(rec); err != nil {
			return fmt.Errorf("checkpointing %s: %w", rec.ID, err)
		}
		summary.Analyzed++
		// A missing embedding is retried later; the record still proceeds
		// to upsert as keyword-searchable.
		if len(rec.Embedding) == 0 && !rec.LowContent {
			summary.AddFailure(storage.StageAnalyze)
			if err := p.store.MarkForRetry(storage.StageAnalyze, rec.ID, "embedding unavailable"); err != nil {
				return err
			}
			continue
		}
		if err := p.store.ClearRetry(storage.StageAnalyze, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runUpsert(ctx context.Context, summary *storage.RunSummary) error {
	recs, err := p.store.ListForUpsert(0)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	p.log.Info("upserting", "records", len(recs))

	report, err := p.upserter.Upsert(ctx, recs)
	if err != nil {
		return err
	}
	if err := p.store.MarkUpserted(report.Succeeded); err != nil {
		return err
	}
	for _, id := range report.Succeeded {
		if err := p.store.ClearRetry(storage.StageUpsert, id); err != nil {
			return err
		}
	}
	for _, f := range report.Failed {
		p.log.Warn("upsert rejected", "id", f.ID, "reason", f.Reason)
		summary.AddFailure(storage.StageUpsert)
		if err := p.store.MarkForRetry(storage.StageUpsert, f.ID, f.Reason); err != nil {
			return err
		}
	}
	summary.Upserted = len(report.Succeeded)
	return nil
}

func (p *Pipeline) workers() int {
	if p.cfg.Workers > 0 {
		return p.cfg.Workers
	}
	return 3
}

func (p *Pipeline) retrySet(stage string) (map[string]bool, error) {
	items, err := p.store.RetryQueue(stage)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item.RecordID] = true
	}
	return set, nil
}

// appendRetries adds queued records for the stage that the base listing
// missed. Queue entries whose record has vanished are dropped.
func (p *Pipeline) appendRetries(recs []*content.Record, stage string) ([]*content.Record, error) {
	items, err := p.store.RetryQueue(stage)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(recs))
	for _, rec := range recs {
		have[rec.ID] = true
	}
	for _, item := range items {
		if have[item.RecordID] {
			continue
		}
		rec, err := p.store.GetContentRecord(item.RecordID)
		if errors.Is(err, content.ErrNotFound) {
			if err := p.store.ClearRetry(stage, item.RecordID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
