// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package bulk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/geomark/internal/logging"
	"github.com/tomtom215/geomark/internal/models"
)

// ErrJobNotFound is returned when a job id is unknown or its report has
// already been reclaimed by retention.
var ErrJobNotFound = errors.New("bulk import job not found")

// trackedJob pairs a job report with its cancel func and the mutex that
// guards report mutation.
type trackedJob struct {
	mu     sync.Mutex
	job    *models.BulkImportJob
	cancel context.CancelFunc
}

// snapshot returns a copy of the report safe to hand to callers while the
// job is still mutating.
func (tj *trackedJob) snapshot() *models.BulkImportJob {
	tj.mu.Lock()
	defer tj.mu.Unlock()

	cp := *tj.job
	cp.Errors = append([]models.RecordError(nil), tj.job.Errors...)
	cp.Duplicates = append([]models.SkippedDuplicate(nil), tj.job.Duplicates...)
	if tj.job.CompletedAt != nil {
		t := *tj.job.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Registry tracks bulk import jobs in memory. Terminal job reports are
// retained for a configurable window so callers can poll results, then
// reclaimed by the janitor.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[uuid.UUID]*trackedJob
	retention time.Duration
}

// NewRegistry creates a job registry with the given retention window.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		jobs:      make(map[uuid.UUID]*trackedJob),
		retention: retention,
	}
}

func (r *Registry) add(tj *trackedJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[tj.job.ID] = tj
}

func (r *Registry) get(id uuid.UUID) (*trackedJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tj, ok := r.jobs[id]
	return tj, ok
}

// Get returns a point-in-time copy of a job report.
func (r *Registry) Get(id uuid.UUID) (*models.BulkImportJob, error) {
	tj, ok := r.get(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	return tj.snapshot(), nil
}

// Cancel requests cancellation of a running job. Terminal jobs are left
// untouched.
func (r *Registry) Cancel(id uuid.UUID) error {
	tj, ok := r.get(id)
	if !ok {
		return ErrJobNotFound
	}
	tj.mu.Lock()
	terminal := tj.job.Status == models.JobStatusCompleted || tj.job.Status == models.JobStatusFailed
	cancel := tj.cancel
	tj.mu.Unlock()

	if !terminal && cancel != nil {
		cancel()
	}
	return nil
}

// CancelAll requests cancellation of every non-terminal job. Used at
// shutdown so no job outlives the process lifecycle.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	tracked := make([]*trackedJob, 0, len(r.jobs))
	for _, tj := range r.jobs {
		tracked = append(tracked, tj)
	}
	r.mu.RUnlock()

	for _, tj := range tracked {
		tj.mu.Lock()
		terminal := tj.job.Status == models.JobStatusCompleted || tj.job.Status == models.JobStatusFailed
		cancel := tj.cancel
		tj.mu.Unlock()

		if !terminal && cancel != nil {
			cancel()
		}
	}
}

// StartJanitor runs retention cleanup until ctx is cancelled.
func (r *Registry) StartJanitor(ctx context.Context) {
	interval := r.retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.reap(time.Now()); removed > 0 {
				logging.Debug().Int("jobs", removed).Msg("Expired bulk job reports reclaimed")
			}
		}
	}
}

// reap removes terminal jobs whose completion is older than the retention
// window. Returns the number removed.
func (r *Registry) reap(now time.Time) int {
	cutoff := now.Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, tj := range r.jobs {
		tj.mu.Lock()
		expired := tj.job.CompletedAt != nil && tj.job.CompletedAt.Before(cutoff)
		tj.mu.Unlock()
		if expired {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}
