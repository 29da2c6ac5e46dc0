// Package scheduler rebuilds the in-memory name indexes at fixed times of day and
// warns when they go stale.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/giygas/drug-registry/interfaces"
	"github.com/giygas/drug-registry/logging"
)

// Compile-time check to ensure Scheduler implements Scheduler interface
var _ interfaces.Scheduler = (*Scheduler)(nil)

const (
	staleAfter      = 25 * time.Hour
	monitorInterval = time.Hour
)

// ErrReindexInProgress is returned when a rebuild is requested while one runs.
var ErrReindexInProgress = errors.New("reindex already in progress")

// Scheduler rebuilds every registered index daily at the configured times.
type Scheduler struct {
	indexes   []interfaces.Indexer
	times     []string
	scheduler *gocron.Scheduler

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler for indexes, rebuilt at each "HH:MM" in times.
func NewScheduler(indexes []interfaces.Indexer, times []string) *Scheduler {
	return &Scheduler{
		indexes:   indexes,
		times:     times,
		scheduler: gocron.NewScheduler(time.Local),
		stop:      make(chan struct{}),
	}
}

// Start builds every index once, then schedules the daily rebuilds and the
// staleness monitor.
func (s *Scheduler) Start() error {
	if err := s.Reindex(context.Background()); err != nil {
		logging.Error("Failed to perform initial index build", "error", err)
		return fmt.Errorf("initial index build failed: %w", err)
	}

	if len(s.times) > 0 {
		_, err := s.scheduler.Every(1).Days().At(strings.Join(s.times, ";")).Do(func() {
			if err := s.Reindex(context.Background()); err != nil && !errors.Is(err, ErrReindexInProgress) {
				logging.Error("Failed to rebuild indexes", "error", err)
			}
		})
		if err != nil {
			logging.Error("Failed to schedule index rebuilds", "error", err)
			return fmt.Errorf("failed to schedule index rebuilds: %w", err)
		}
		s.scheduler.StartAsync()
	}

	s.startStalenessMonitoring()

	return nil
}

// Stop stops the scheduled jobs and the staleness monitor.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.stopOnce.Do(func() { close(s.stop) })
}

// Reindex rebuilds every index. Failures of one index do not stop the others;
// they are joined into the returned error.
func (s *Scheduler) Reindex(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		logging.Info("Reindex already in progress, skipping...")
		return ErrReindexInProgress
	}
	defer s.running.Store(false)

	logging.Info("Starting index rebuild", "at", time.Now().Format(time.RFC3339))
	start := time.Now()

	var errs []error
	for _, ix := range s.indexes {
		if err := ix.Rebuild(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ix.Index().Name(), err))
			continue
		}
		logging.Info("Index rebuilt", "index", ix.Index().Name(), "entries", ix.Index().Len())
	}

	logging.Info("Index rebuild completed", "duration", time.Since(start).String(), "failed", len(errs))
	return errors.Join(errs...)
}

// Running reports whether a rebuild is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// NextUpdate returns the next scheduled rebuild after now.
func (s *Scheduler) NextUpdate() time.Time {
	return CalculateNextUpdate(s.times, time.Now())
}

func (s *Scheduler) startStalenessMonitoring() {
	go func() {
		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case now := <-ticker.C:
				s.checkStaleness(now)
			}
		}
	}()
}

// checkStaleness logs a warning per index not rebuilt within staleAfter and
// returns their names.
func (s *Scheduler) checkStaleness(now time.Time) []string {
	var stale []string
	for _, ix := range s.indexes {
		idx := ix.Index()
		if last := idx.LastUpdated(); now.Sub(last) > staleAfter {
			logging.Warn("Index hasn't been rebuilt in over 25 hours", "index", idx.Name(), "last_update", last)
			stale = append(stale, idx.Name())
		}
	}
	return stale
}

// CalculateNextUpdate returns the first "HH:MM" time in times that falls after
// now, in now's location. Invalid entries are ignored; with none left the zero
// time is returned.
func CalculateNextUpdate(times []string, now time.Time) time.Time {
	var candidates []time.Time
	for _, hm := range times {
		t, err := time.Parse("15:04", strings.TrimSpace(hm))
		if err != nil {
			continue
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if !today.After(now) {
			today = today.AddDate(0, 0, 1)
		}
		candidates = append(candidates, today)
	}
	if len(candidates) == 0 {
		return time.Time{}
	}
	return slices.MinFunc(candidates, func(a, b time.Time) int { return a.Compare(b) })
}
