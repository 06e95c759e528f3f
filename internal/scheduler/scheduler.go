// Package scheduler fires registered jobs on minute boundaries. Jobs carry
// a due predicate evaluated against the upstream zone's wall clock; due
// jobs are handed to the worker pool so a slow job never delays the tick.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/j5272000/campus-imaotai/internal/clock"
)

var cst = time.FixedZone("CST", 8*3600)

type Job struct {
	Name string
	Due  func(t time.Time) bool
	Run  func(ctx context.Context) error
}

// Submitter runs jobs off the tick goroutine.
type Submitter interface {
	Submit(fn func())
}

type Scheduler struct {
	jobs  []Job
	pool  Submitter
	clock clock.Clock
	log   *slog.Logger
}

func New(pool Submitter, clk clock.Clock, log *slog.Logger) *Scheduler {
	return &Scheduler{pool: pool, clock: clk, log: log}
}

func (s *Scheduler) Add(j Job) {
	s.jobs = append(s.jobs, j)
}

// Run blocks until ctx is cancelled, ticking once per minute. The first
// tick is aligned to the next minute boundary so due predicates see clean
// minute values.
func (s *Scheduler) Run(ctx context.Context) {
	now := s.clock.Now()
	align := time.NewTimer(now.Truncate(time.Minute).Add(time.Minute).Sub(now))
	defer align.Stop()

	select {
	case <-ctx.Done():
		return
	case <-align.C:
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.tick(ctx, s.clock.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.clock.Now())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	local := now.In(cst)
	for _, j := range s.jobs {
		if !j.Due(local) {
			continue
		}
		job := j
		s.log.Info("job due", "job", job.Name, "at", local.Format("15:04"))
		s.pool.Submit(func() {
			if err := job.Run(ctx); err != nil {
				s.log.Warn("job failed", "job", job.Name, "error", err)
			}
		})
	}
}

// At is due once a day at hour:minute.
func At(hour, minute int) func(time.Time) bool {
	return func(t time.Time) bool {
		return t.Hour() == hour && t.Minute() == minute
	}
}

// EveryMinuteOfHour is due on every minute of the given hour.
func EveryMinuteOfHour(hour int) func(time.Time) bool {
	return func(t time.Time) bool {
		return t.Hour() == hour
	}
}

// AtAnyOf is due at each listed hour:minute pair.
func AtAnyOf(times ...[2]int) func(time.Time) bool {
	return func(t time.Time) bool {
		for _, hm := range times {
			if t.Hour() == hm[0] && t.Minute() == hm[1] {
				return true
			}
		}
		return false
	}
}
