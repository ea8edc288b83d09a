// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

// Package bulk runs batch marker imports: bounded-concurrency record
// processing, near-duplicate suppression under a distance tolerance, and
// per-record failure isolation so one bad row never aborts the batch.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tomtom215/geomark/internal/config"
	"github.com/tomtom215/geomark/internal/database"
	"github.com/tomtom215/geomark/internal/logging"
	"github.com/tomtom215/geomark/internal/marker"
	"github.com/tomtom215/geomark/internal/metrics"
	"github.com/tomtom215/geomark/internal/models"
	"github.com/tomtom215/geomark/internal/spatial"
)

const breakerName = "bulk-import"

// Request is one bulk import submission.
type Request struct {
	GameID        string
	OperationType string
	Records       []models.BulkImportRecord
	Options       models.BulkImportOptions
	ActorID       string
}

// Pipeline executes bulk import jobs against the marker store.
type Pipeline struct {
	db       *database.DB
	store    *marker.Store
	index    *spatial.Index
	registry *Registry
	cfg      *config.BulkConfig

	breaker *gobreaker.CircuitBreaker[*models.Marker]
	limiter *rate.Limiter
	cells   cellLocks

	// running counts detached job goroutines so Shutdown can drain them.
	running sync.WaitGroup
}

// NewPipeline creates a bulk import pipeline. The circuit breaker guards
// storage-level creates: validation failures do not trip it, repeated
// storage failures do.
func NewPipeline(db *database.DB, store *marker.Store, index *spatial.Index, registry *Registry, cfg *config.BulkConfig) *Pipeline {
	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var ve *marker.ValidationError
			return errors.As(err, &ve)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCircuitBreakerState(name, float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Pipeline{
		db:       db,
		store:    store,
		index:    index,
		registry: registry,
		cfg:      cfg,
		breaker:  gobreaker.NewCircuitBreaker[*models.Marker](settings),
		limiter:  rate.NewLimiter(limit, cfg.Workers),
	}
}

// Submit validates the request at job level, registers the job, and runs
// it on a detached context so the caller's request lifetime does not bound
// the batch. The returned report is the Accepted snapshot; poll the
// registry for progress.
func (p *Pipeline) Submit(req *Request) (*models.BulkImportJob, error) {
	tj, err := p.register(req)
	if err != nil {
		return tj.snapshot(), err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	tj.mu.Lock()
	tj.cancel = cancel
	tj.mu.Unlock()

	p.running.Add(1)
	go func() {
		defer p.running.Done()
		defer cancel()
		p.run(jobCtx, tj, req)
	}()

	return tj.snapshot(), nil
}

// Shutdown cancels every non-terminal job and waits for detached job
// goroutines to drain, bounded by ctx. Records already in flight finish;
// nothing writes to storage after Shutdown returns nil.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.registry.CancelAll()

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the job synchronously and returns the terminal report.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*models.BulkImportJob, error) {
	tj, err := p.register(req)
	if err != nil {
		return tj.snapshot(), err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	tj.mu.Lock()
	tj.cancel = cancel
	tj.mu.Unlock()

	p.run(jobCtx, tj, req)
	return tj.snapshot(), nil
}

// register performs job-level validation. A fatal problem (bad game id,
// malformed batch) still registers the job, marked Failed before any
// record is processed, so the failure is observable by id.
func (p *Pipeline) register(req *Request) (*trackedJob, error) {
	job := &models.BulkImportJob{
		ID:            uuid.New(),
		GameID:        req.GameID,
		OperationType: req.OperationType,
		Status:        models.JobStatusAccepted,
		Options:       req.Options,
		ActorID:       req.ActorID,
		Total:         int64(len(req.Records)),
		StartedAt:     time.Now().UTC(),
	}
	if job.Options.DuplicateToleranceMeters <= 0 {
		job.Options.DuplicateToleranceMeters = models.DefaultDuplicateToleranceMeters
	}
	tj := &trackedJob{job: job}

	var fatal error
	switch {
	case req.GameID == "":
		fatal = &marker.ValidationError{Field: "game_id", Message: "required"}
	case req.ActorID == "":
		fatal = &marker.ValidationError{Field: "actor_id", Message: "required"}
	case len(req.Records) > p.cfg.MaxBatchSize:
		fatal = &marker.ValidationError{
			Field:   "records",
			Message: fmt.Sprintf("batch exceeds maximum size %d", p.cfg.MaxBatchSize),
		}
	}
	if fatal != nil {
		now := time.Now().UTC()
		job.Status = models.JobStatusFailed
		job.Errors = []models.RecordError{{Index: -1, Message: fatal.Error()}}
		job.CompletedAt = &now
		p.registry.add(tj)
		return tj, fatal
	}

	p.registry.add(tj)
	return tj, nil
}

// run drives one job from Running to a terminal state.
func (p *Pipeline) run(ctx context.Context, tj *trackedJob, req *Request) {
	start := time.Now()
	metrics.BulkActiveJobs.Inc()
	defer metrics.BulkActiveJobs.Dec()
	metrics.BulkBatchSize.Observe(float64(len(req.Records)))

	tj.mu.Lock()
	tj.job.Status = models.JobStatusRunning
	tj.mu.Unlock()

	tolerance := req.Options.DuplicateToleranceMeters
	if tolerance <= 0 {
		tolerance = models.DefaultDuplicateToleranceMeters
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)

	// Cancellation stops launching new records; work already in flight
	// runs to completion on a detached context, bounded by the per-record
	// timeout.
	recCtx := context.WithoutCancel(ctx)

	for i := range req.Records {
		if ctx.Err() != nil {
			break
		}
		idx := i
		rec := req.Records[i]
		g.Go(func() error {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil
			}
			p.processRecord(recCtx, tj, idx, rec, req, tolerance)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	tj.mu.Lock()
	sort.Slice(tj.job.Errors, func(a, b int) bool {
		return tj.job.Errors[a].Index < tj.job.Errors[b].Index
	})
	sort.Slice(tj.job.Duplicates, func(a, b int) bool {
		return tj.job.Duplicates[a].Index < tj.job.Duplicates[b].Index
	})

	// A cancelled job still completes: the report is partial, visible as
	// Processed < Total. Failed is reserved for batches that never start.
	now := time.Now().UTC()
	tj.job.CompletedAt = &now
	tj.job.Status = models.JobStatusCompleted
	status := "completed"
	if ctx.Err() != nil {
		status = "cancelled"
	}
	succeeded, failed, skipped := tj.job.Succeeded, tj.job.Failed, tj.job.Skipped
	tj.mu.Unlock()

	metrics.RecordBulkJob(status, time.Since(start), succeeded, failed, skipped)
	logging.Info().
		Str("job_id", tj.job.ID.String()).
		Str("game_id", req.GameID).
		Int64("succeeded", succeeded).
		Int64("failed", failed).
		Int64("skipped", skipped).
		Dur("duration", time.Since(start)).
		Msg("Bulk import job finished")
}

// processRecord handles one input row. Every outcome bumps Processed and
// exactly one of Succeeded, Failed, or Skipped.
func (p *Pipeline) processRecord(ctx context.Context, tj *trackedJob, idx int, rec models.BulkImportRecord, req *Request, tolerance float64) {
	input := recordInput(rec, req)

	if err := marker.ValidateInput(input); err != nil {
		p.recordFailure(tj, idx, err)
		return
	}

	// Serialize the duplicate check and the insert against other writers
	// targeting the same neighborhood.
	if req.Options.SkipDuplicates {
		mu := p.cells.acquire(rec.Position)
		defer mu.Unlock()

		match, found, err := p.findDuplicate(ctx, req.GameID, rec.Position, tolerance)
		if err != nil {
			p.recordFailure(tj, idx, err)
			return
		}
		if found {
			if req.Options.DuplicatesAsErrors {
				p.recordFailure(tj, idx, fmt.Errorf(
					"duplicate of marker %s at %.2f meters", match.ID, match.DistanceMeters))
			} else {
				p.recordSkip(tj, idx, match)
			}
			return
		}
	}

	if req.Options.ValidateOnly {
		p.recordSuccess(tj)
		return
	}

	rctx, cancel := context.WithTimeout(ctx, p.cfg.RecordTimeout)
	defer cancel()

	_, err := p.breaker.Execute(func() (*models.Marker, error) {
		return p.store.Create(rctx, input)
	})
	if err != nil {
		metrics.RecordCircuitBreakerResult(breakerName, breakerResult(err))
		p.recordFailure(tj, idx, err)
		return
	}
	metrics.RecordCircuitBreakerResult(breakerName, "success")
	p.recordSuccess(tj)
}

// findDuplicate looks for an existing live marker of the same game within
// tolerance meters of pos. Returns the nearest such match.
func (p *Pipeline) findDuplicate(ctx context.Context, gameID string, pos models.Position, tolerance float64) (spatial.Match, bool, error) {
	candidates := p.index.QueryRadius(pos, tolerance)
	if len(candidates) == 0 {
		return spatial.Match{}, false, nil
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	markers, err := p.db.GetMarkersByIDs(ctx, ids)
	if err != nil {
		return spatial.Match{}, false, fmt.Errorf("duplicate lookup failed: %w", err)
	}
	inGame := make(map[uuid.UUID]bool, len(markers))
	for _, m := range markers {
		if m.GameID == gameID {
			inGame[m.ID] = true
		}
	}

	// Candidates arrive nearest first.
	for _, c := range candidates {
		if inGame[c.ID] {
			return c, true, nil
		}
	}
	return spatial.Match{}, false, nil
}

func (p *Pipeline) recordSuccess(tj *trackedJob) {
	tj.mu.Lock()
	defer tj.mu.Unlock()
	tj.job.Processed++
	tj.job.Succeeded++
}

func (p *Pipeline) recordFailure(tj *trackedJob, idx int, err error) {
	tj.mu.Lock()
	defer tj.mu.Unlock()
	tj.job.Processed++
	tj.job.Failed++
	tj.job.Errors = append(tj.job.Errors, models.RecordError{Index: idx, Message: err.Error()})
}

func (p *Pipeline) recordSkip(tj *trackedJob, idx int, match spatial.Match) {
	tj.mu.Lock()
	defer tj.mu.Unlock()
	tj.job.Processed++
	tj.job.Skipped++
	tj.job.Duplicates = append(tj.job.Duplicates, models.SkippedDuplicate{
		Index:           idx,
		MatchedMarkerID: match.ID,
		DistanceMeters:  match.DistanceMeters,
	})
}

// recordInput maps one bulk record onto a creation input.
func recordInput(rec models.BulkImportRecord, req *Request) *models.CreateMarkerInput {
	visibility := 1
	if rec.VisibilityLevel != nil {
		visibility = *rec.VisibilityLevel
	}
	return &models.CreateMarkerInput{
		GameID:          req.GameID,
		MapID:           rec.MapID,
		CategoryID:      rec.CategoryID,
		Position:        rec.Position,
		Title:           rec.Title,
		Description:     rec.Description,
		Metadata:        rec.Metadata,
		VisibilityLevel: visibility,
		TagIDs:          rec.TagIDs,
		Difficulty:      rec.Difficulty,
		ActorID:         req.ActorID,
	}
}

func breakerResult(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "rejected"
	}
	return "failure"
}
