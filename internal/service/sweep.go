package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Sweep names shared by the scheduler, the CLI and the HTTP trigger.
const (
	SweepEscalation  = "escalation"
	SweepReminders   = "reminders"
	SweepRecurrence  = "recurrence"
	SweepStreaks     = "streaks"
	SweepMaintenance = "maintenance"
)

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Name      string        `json:"name"`
	At        time.Time     `json:"at"`
	Processed int           `json:"processed"`
	Changed   int           `json:"changed"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func (r SweepReport) String() string {
	return fmt.Sprintf("sweep=%s processed=%d changed=%d failed=%d skipped=%t took=%s",
		r.Name, r.Processed, r.Changed, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond))
}

// SweepFunc runs a sweep against the store state at now.
type SweepFunc func(ctx context.Context, now time.Time) (SweepReport, error)

// Sweeps maps sweep names to their entry points.
type Sweeps map[string]SweepFunc

// Names returns the registered sweep names in a stable order.
func (s Sweeps) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the named sweep.
func (s Sweeps) Run(ctx context.Context, name string, now time.Time) (SweepReport, error) {
	fn, ok := s[name]
	if !ok {
		return SweepReport{}, fmt.Errorf("unknown sweep %q", name)
	}
	return fn(ctx, now)
}

// runEach processes items with up to workers goroutines. Each item is
// isolated: an error or panic is logged and counted, and the batch goes on.
// A cancelled context stops new items from starting; items already started
// run on a context detached from that cancellation.
func runEach[T any](ctx context.Context, name string, workers int, items []T, id func(T) uint, fn func(context.Context, T) (bool, error)) SweepReport {
	started := time.Now()
	report := SweepReport{Name: name}
	if workers <= 0 {
		workers = 1
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers)
	)

	record := func(changed bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Processed++
		if err != nil {
			report.Failed++
			return
		}
		if changed {
			report.Changed++
		}
	}

	for _, item := range items {
		if ctx.Err() != nil {
			log.Printf("[%s] stopping early: %v", name, ctx.Err())
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[%s][panic] item=%d: %v", name, id(item), r)
					record(false, fmt.Errorf("panic: %v", r))
				}
			}()
			changed, err := fn(context.WithoutCancel(ctx), item)
			if err != nil {
				log.Printf("[%s][err] item=%d: %v", name, id(item), err)
			}
			record(changed, err)
		}(item)
	}
	wg.Wait()

	report.Duration = time.Since(started)
	return report
}

// NewSweeps wires the engines into a Sweeps registry.
func NewSweeps(escalation *EscalationService, reminders *ReminderService, recurrence *RecurrenceService, streaks *StreakService, maintenance *MaintenanceService) Sweeps {
	return Sweeps{
		SweepEscalation:  escalation.Sweep,
		SweepReminders:   reminders.Sweep,
		SweepRecurrence:  recurrence.Sweep,
		SweepStreaks:     streaks.Sweep,
		SweepMaintenance: maintenance.Run,
	}
}
