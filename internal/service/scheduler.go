package service

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cortexmem/cortex/internal/domain"
)

const (
	schedulerTickInterval = time.Minute

	defaultMaxRetryAttempts = 3
	defaultBaseRetryDelay   = time.Second

	memLoadWeight = 0.6
	cpuLoadWeight = 0.4
)

// Last-error text recorded when the load gate suppresses a scheduled run.
const loadSkipMessage = "Skipped due to high system load"

// ConsolidationPhase tracks where a run is in its lifecycle.
type ConsolidationPhase string

const (
	PhaseIdle                ConsolidationPhase = "idle"
	PhaseIdentifyingClusters ConsolidationPhase = "identifying_clusters"
	PhaseGeneratingSummaries ConsolidationPhase = "generating_summaries"
	PhaseConsolidating       ConsolidationPhase = "consolidating"
	PhaseComplete            ConsolidationPhase = "complete"
)

type ConsolidationProgress struct {
	Phase                ConsolidationPhase `json:"phase"`
	ClustersIdentified   int                `json:"clusters_identified"`
	ClustersConsolidated int                `json:"clusters_consolidated"`
	MemoriesProcessed    int                `json:"memories_processed"`
	MemoriesTotal        int                `json:"memories_total"`
	PercentComplete      float64            `json:"percent_complete"`
	StartedAt            time.Time          `json:"started_at"`
	EstimatedRemainingMs int64              `json:"estimated_remaining_ms"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

type SchedulerStatus struct {
	Enabled   bool                   `json:"enabled"`
	Running   bool                   `json:"running"`
	Schedule  string                 `json:"schedule"`
	BatchSize int                    `json:"batch_size"`
	NextRun   *time.Time             `json:"next_run,omitempty"`
	LastRun   *time.Time             `json:"last_run,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	Progress  *ConsolidationProgress `json:"progress,omitempty"`
}

type SchedulerConfig struct {
	CronExpr  string
	Enabled   bool
	MaxLoad   float64
	BatchSize int

	// MaxRetryAttempts is the number of retries after a failed run; zero
	// means fail on the first error. Nil takes the default of 3.
	MaxRetryAttempts *int
	// BaseRetryDelay is the first backoff step; each retry doubles it.
	// Zero takes the default of 1s.
	BaseRetryDelay time.Duration
}

// Scheduler runs periodic consolidation for every known user. One run at a
// time; scheduled runs are skipped under high system load, manual triggers
// are not.
type Scheduler struct {
	consolidation *ConsolidationService
	memoryStore   domain.MemoryStore
	logger        *zap.Logger

	maxRetries int
	baseDelay  time.Duration

	mu        sync.Mutex
	schedule  *CronSchedule
	cronExpr  string
	enabled   bool
	maxLoad   float64
	batchSize int
	running   bool
	lastRun   *time.Time
	lastError string
	progress  ConsolidationProgress

	stopCh chan struct{}
	wg     sync.WaitGroup

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	load  func() (float64, error)
}

func NewScheduler(cs *ConsolidationService, ms domain.MemoryStore, cfg SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	schedule, err := ParseCron(cfg.CronExpr)
	if err != nil {
		return nil, err
	}
	if cfg.MaxLoad <= 0 || cfg.MaxLoad > 1 {
		return nil, fmt.Errorf("%w: max load must be in (0,1]", ErrInvalidConfig)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultConsolidationConfig().BatchSize
	}
	retries := defaultMaxRetryAttempts
	if cfg.MaxRetryAttempts != nil {
		if *cfg.MaxRetryAttempts < 0 {
			return nil, fmt.Errorf("%w: max retry attempts must be >= 0", ErrInvalidConfig)
		}
		retries = *cfg.MaxRetryAttempts
	}
	if cfg.BaseRetryDelay < 0 {
		return nil, fmt.Errorf("%w: base retry delay must be >= 0", ErrInvalidConfig)
	}
	baseDelay := cfg.BaseRetryDelay
	if baseDelay == 0 {
		baseDelay = defaultBaseRetryDelay
	}
	return &Scheduler{
		consolidation: cs,
		memoryStore:   ms,
		logger:        logger,
		maxRetries:    retries,
		baseDelay:     baseDelay,
		schedule:      schedule,
		cronExpr:      cfg.CronExpr,
		enabled:       cfg.Enabled,
		maxLoad:       cfg.MaxLoad,
		batchSize:     batch,
		progress:      ConsolidationProgress{Phase: PhaseIdle},
		stopCh:        make(chan struct{}),
		now:           time.Now,
		sleep:         sleepCtx,
		load:          systemLoad,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetClock, SetSleeper and SetLoadProbe override time sources, for tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

func (s *Scheduler) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	s.sleep = sleep
}

func (s *Scheduler) SetLoadProbe(load func() (float64, error)) { s.load = load }

// Start launches the ticker loop. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(schedulerTickInterval)
		defer ticker.Stop()

		last := s.now()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := s.now()
				s.runScheduledIfDue(ctx, last, now)
				last = now
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// SetBatchSize adjusts the per-user clustering batch for subsequent runs.
func (s *Scheduler) SetBatchSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: batch size must be > 0", ErrInvalidArgument)
	}
	s.mu.Lock()
	s.batchSize = n
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{
		Enabled:   s.enabled,
		Running:   s.running,
		Schedule:  s.cronExpr,
		BatchSize: s.batchSize,
		LastRun:   s.lastRun,
		LastError: s.lastError,
	}
	if s.enabled {
		next := s.schedule.Next(s.now())
		if !next.IsZero() {
			st.NextRun = &next
		}
	}
	if s.running {
		p := s.progress
		st.Progress = &p
	}
	return st
}

// Progress returns a snapshot of the current (or last) run's progress.
func (s *Scheduler) Progress() ConsolidationProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// TriggerNow starts a consolidation run immediately, bypassing the load gate.
// Returns ErrJobInProgress if a run is already active.
func (s *Scheduler) TriggerNow(ctx context.Context) (*ConsolidationRunResult, error) {
	if !s.tryAcquire() {
		return nil, ErrJobInProgress
	}
	defer s.release()
	return s.runAllUsersWithRetry(ctx)
}

// runScheduledIfDue fires a run when a cron instant fell inside (last, now]
// and the load gate passes.
func (s *Scheduler) runScheduledIfDue(ctx context.Context, last, now time.Time) {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()
	if !enabled {
		return
	}

	next := s.schedule.Next(last)
	if next.IsZero() || next.After(now) {
		return
	}

	if load, err := s.load(); err != nil {
		s.logger.Warn("load probe failed, proceeding with scheduled run", zap.Error(err))
	} else if load > s.maxLoad {
		s.logger.Info("skipping scheduled consolidation, system load too high",
			zap.Float64("load", load), zap.Float64("max", s.maxLoad))
		s.setLastError(loadSkipMessage)
		return
	}

	if !s.tryAcquire() {
		return
	}
	defer s.release()

	if _, err := s.runAllUsersWithRetry(ctx); err != nil {
		s.logger.Error("scheduled consolidation failed", zap.Error(err))
	}
}

func (s *Scheduler) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	now := s.now()
	s.progress = ConsolidationProgress{Phase: PhaseIdentifyingClusters, StartedAt: now, UpdatedAt: now}
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	now := s.now()
	s.running = false
	s.lastRun = &now
	s.progress.Phase = PhaseComplete
	s.progress.PercentComplete = 100
	s.progress.EstimatedRemainingMs = 0
	s.progress.UpdatedAt = now
	s.mu.Unlock()
}

func (s *Scheduler) setLastError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

// runAllUsersWithRetry retries the full pass with exponential backoff
// (baseDelay, 2x, 4x, ... between attempts) before giving up.
func (s *Scheduler) runAllUsersWithRetry(ctx context.Context) (*ConsolidationRunResult, error) {
	attempts := s.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := s.baseDelay * (1 << (attempt - 1))
			s.logger.Warn("retrying consolidation run",
				zap.Int("attempt", attempt+1), zap.Duration("backoff", delay), zap.Error(lastErr))
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		result, err := s.runAllUsers(ctx)
		if err == nil {
			s.setLastError("")
			return result, nil
		}
		lastErr = err
	}

	err := fmt.Errorf("%w after %d attempts: %v", ErrMaxRetries, attempts, lastErr)
	s.setLastError(err.Error())
	return nil, err
}

func (s *Scheduler) runAllUsers(ctx context.Context) (*ConsolidationRunResult, error) {
	start := s.now()

	users, err := s.memoryStore.ListDistinctUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users for consolidation: %w", err)
	}

	s.mu.Lock()
	cfg := DefaultConsolidationConfig()
	cfg.BatchSize = s.batchSize
	s.mu.Unlock()

	total := &ConsolidationRunResult{Errors: []string{}}
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		result, err := s.consolidation.RunConsolidation(ctx, userID, cfg, func(p RunProgress) {
			s.updateProgress(start, total, p)
		})
		if err != nil {
			return total, fmt.Errorf("user %s: %w", userID, err)
		}
		total.ClustersIdentified += result.ClustersIdentified
		total.ClustersConsolidated += result.ClustersConsolidated
		total.MemoriesProcessed += result.MemoriesProcessed
		total.Errors = append(total.Errors, result.Errors...)
	}

	s.logger.Info("consolidation run complete",
		zap.Int("users", len(users)),
		zap.Int("clusters_identified", total.ClustersIdentified),
		zap.Int("clusters_consolidated", total.ClustersConsolidated),
		zap.Int("memories_processed", total.MemoriesProcessed),
		zap.Int("cluster_errors", len(total.Errors)),
		zap.Duration("took", s.now().Sub(start)))
	return total, nil
}

// updateProgress folds per-user progress into the run-wide snapshot and
// refreshes the remaining-time estimate from observed throughput.
func (s *Scheduler) updateProgress(start time.Time, done *ConsolidationRunResult, p RunProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	processed := done.MemoriesProcessed + p.MemoriesProcessed
	totalMem := processed + (p.MemoriesTotal - p.MemoriesProcessed)

	s.progress.ClustersIdentified = done.ClustersIdentified + p.ClustersIdentified
	s.progress.ClustersConsolidated = done.ClustersConsolidated + p.ClustersConsolidated
	s.progress.MemoriesProcessed = processed
	s.progress.MemoriesTotal = totalMem
	if totalMem > 0 {
		s.progress.PercentComplete = 100 * float64(processed) / float64(totalMem)
	}
	s.progress.UpdatedAt = s.now()

	switch {
	case processed == 0 && s.progress.ClustersIdentified > 0:
		s.progress.Phase = PhaseGeneratingSummaries
	case processed > 0:
		s.progress.Phase = PhaseConsolidating
	}

	// No throughput observed yet means no estimate.
	remaining := totalMem - processed
	if remaining <= 0 || processed == 0 {
		s.progress.EstimatedRemainingMs = 0
		return
	}
	perMemory := s.now().Sub(start) / time.Duration(processed)
	s.progress.EstimatedRemainingMs = perMemory.Milliseconds() * int64(remaining)
}

// systemLoad combines memory pressure and normalized 1-minute CPU load into a
// single [0,1] figure, weighted 0.6 memory and 0.4 CPU. On platforms without
// /proc it reports zero load.
func systemLoad() (float64, error) {
	mem, memErr := memoryPressure()
	cpu, cpuErr := cpuPressure()
	if memErr != nil && cpuErr != nil {
		return 0, fmt.Errorf("load probe: %v; %v", memErr, cpuErr)
	}
	return memLoadWeight*mem + cpuLoadWeight*cpu, nil
}

func memoryPressure() (float64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	var total, available float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("meminfo missing MemTotal")
	}
	return 1 - available/total, nil
}

func cpuPressure() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("loadavg empty")
	}
	load1, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	normalized := load1 / float64(runtime.NumCPU())
	if normalized > 1 {
		normalized = 1
	}
	return normalized, nil
}
