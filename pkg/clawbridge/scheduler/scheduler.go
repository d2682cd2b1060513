// Package scheduler runs recurring prompt jobs against the bridge. Uses
// robfig/cron for cron expression parsing and execution, with SQLite-based
// persistence for surviving restarts. A fired job sends its prompt through
// the same path as an interactive message, so scheduled briefings land in
// session history and on the event bus like any other reply.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled prompt.
type Job struct {
	// ID is the unique job identifier.
	ID string `json:"id"`

	// Schedule is the cron expression or descriptor.
	// Supports standard 5-field cron, @daily, @hourly, @every 5m, etc.
	Schedule string `json:"schedule"`

	// Prompt is the message sent to the assistant when the job fires.
	Prompt string `json:"prompt"`

	// SessionID is the conversation the prompt runs in. Empty runs each
	// fire in a fresh session.
	SessionID string `json:"session_id,omitempty"`

	// Enabled indicates whether the job is active.
	Enabled bool `json:"enabled"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`

	// LastRunAt is the last execution timestamp.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastError contains the error from the last run, if any.
	LastError string `json:"last_error,omitempty"`

	// RunCount tracks how many times the job has executed.
	RunCount int `json:"run_count"`
}

// JobHandler is called when a job fires. Returns the assistant reply text.
type JobHandler func(ctx context.Context, job *Job) (string, error)

// JobStorage persists jobs across restarts.
type JobStorage interface {
	Save(job *Job) error
	Delete(id string) error
	LoadAll() ([]*Job, error)
}

// Scheduler manages scheduled prompt jobs.
type Scheduler struct {
	jobs map[string]*Job

	cron *cron.Cron

	// cronIDs maps job IDs to their cron entry IDs for removal.
	cronIDs map[string]cron.EntryID

	// runningJobs tracks in-flight executions so a cron fire that overlaps
	// the previous run is skipped instead of doubled.
	runningJobs map[string]bool

	storage JobStorage
	handler JobHandler

	// jobTimeout bounds a single execution. Defaults to 5 minutes.
	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler with the given storage and handler.
func New(storage JobStorage, handler JobHandler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:        make(map[string]*Job),
		cronIDs:     make(map[string]cron.EntryID),
		runningJobs: make(map[string]bool),
		storage:     storage,
		handler:     handler,
		jobTimeout:  5 * time.Minute,
		logger:      logger.With("component", "scheduler"),
	}
}

// Add registers a new job.
func (s *Scheduler) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	if job.Schedule == "" {
		return fmt.Errorf("job schedule is required")
	}
	if job.Prompt == "" {
		return fmt.Errorf("job prompt is required")
	}

	job.CreatedAt = time.Now()

	if s.cron != nil && job.Enabled {
		if err := s.scheduleCronJob(job); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
		}
	}

	s.jobs[job.ID] = job

	if s.storage != nil {
		if err := s.storage.Save(job); err != nil {
			s.logger.Error("failed to persist job", "id", job.ID, "error", err)
		}
	}

	s.logger.Info("job added", "id", job.ID, "schedule", job.Schedule)
	return nil
}

// Remove deletes a job by ID.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return fmt.Errorf("job %q not found", jobID)
	}

	if entryID, ok := s.cronIDs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, jobID)
	}
	delete(s.jobs, jobID)

	if s.storage != nil {
		if err := s.storage.Delete(jobID); err != nil {
			s.logger.Error("failed to remove job from storage", "id", jobID, "error", err)
		}
	}

	s.logger.Info("job removed", "id", jobID)
	return nil
}

// SetEnabled toggles a job without losing its run history.
func (s *Scheduler) SetEnabled(jobID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("job %q not found", jobID)
	}
	if job.Enabled == enabled {
		return nil
	}
	job.Enabled = enabled

	if s.cron != nil {
		if enabled {
			if err := s.scheduleCronJob(job); err != nil {
				job.Enabled = false
				return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
			}
		} else if entryID, ok := s.cronIDs[jobID]; ok {
			s.cron.Remove(entryID)
			delete(s.cronIDs, jobID)
		}
	}

	if s.storage != nil {
		if err := s.storage.Save(job); err != nil {
			s.logger.Error("failed to persist job", "id", job.ID, "error", err)
		}
	}
	return nil
}

// List returns all registered jobs.
func (s *Scheduler) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	return result
}

// Get returns a job by ID.
func (s *Scheduler) Get(jobID string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// RunNow fires a job immediately, outside its schedule.
func (s *Scheduler) RunNow(jobID string) error {
	job, ok := s.Get(jobID)
	if !ok {
		return fmt.Errorf("job %q not found", jobID)
	}
	go s.executeJob(job)
	return nil
}

// Start initializes the cron scheduler and loads persisted jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	if s.storage != nil {
		jobs, err := s.storage.LoadAll()
		if err != nil {
			s.logger.Error("failed to load jobs", "error", err)
		} else {
			s.mu.Lock()
			for _, job := range jobs {
				s.jobs[job.ID] = job
				if job.Enabled {
					if err := s.scheduleCronJob(job); err != nil {
						s.logger.Warn("skipping job with invalid schedule",
							"id", job.ID, "schedule", job.Schedule, "error", err)
					}
				}
			}
			s.mu.Unlock()
			s.logger.Info("jobs loaded from storage", "count", len(jobs))
		}
	}

	s.cron.Start()

	s.mu.RLock()
	jobCount := len(s.jobs)
	s.mu.RUnlock()
	s.logger.Info("scheduler started", "jobs", jobCount)
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// ---------- Internal ----------

// scheduleCronJob registers a job with the cron scheduler. Caller holds s.mu.
func (s *Scheduler) scheduleCronJob(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return err
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

// executeJob runs a job's prompt through the handler with safety guards:
// a per-job running flag prevents duplicate concurrent runs, panics are
// recovered so one bad job doesn't take out the scheduler, and a timeout
// bounds each execution.
func (s *Scheduler) executeJob(job *Job) {
	s.mu.Lock()
	if s.runningJobs[job.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", job.ID)
		return
	}
	s.runningJobs[job.ID] = true
	now := time.Now()
	job.LastRunAt = &now
	job.RunCount++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.runningJobs, job.ID)
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.mu.Lock()
			job.LastError = fmt.Sprintf("panic: %v", r)
			s.mu.Unlock()
			s.logger.Error("scheduled job panicked", "id", job.ID, "panic", r)
			if s.storage != nil {
				s.storage.Save(job)
			}
		}
	}()

	// Persist LastRunAt before running so a crash mid-execution doesn't
	// re-fire the job immediately on restart.
	if s.storage != nil {
		s.storage.Save(job)
	}

	if s.handler == nil {
		s.mu.Lock()
		job.LastError = "no handler configured"
		s.mu.Unlock()
		return
	}

	timeout := s.jobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	baseCtx := s.ctx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithTimeout(baseCtx, timeout)
	defer cancel()

	s.logger.Info("executing scheduled prompt", "id", job.ID)
	start := time.Now()
	result, err := s.handler(ctx, job)
	duration := time.Since(start)

	s.mu.Lock()
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	_, stillExists := s.jobs[job.ID]
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled prompt failed", "id", job.ID, "error", err, "duration", duration)
	} else {
		s.logger.Info("scheduled prompt completed", "id", job.ID, "result_len", len(result), "duration", duration)
	}

	if s.storage != nil && stillExists {
		s.storage.Save(job)
	}
}
