package scheduler

import (
	"context"
	"time"

	"github.com/j5272000/campus-imaotai/internal/accounts"
)

// spreadThreshold decides between the two minute-assignment strategies:
// above it, minutes are dealt out evenly so every minute slot is used;
// at or below it, each account draws an independent random minute.
const spreadThreshold = 60

const (
	reservationHour = 9
	travelHour      = 11
	resultsHour     = 18
	resultsMinute   = 5
	spreadHour      = 1
	spreadMinute    = 10
)

// refreshTimes are the pre-window catalog refresh slots: twice before the
// reservation window opens and twice before the mid-morning re-check.
var refreshTimes = [][2]int{{7, 10}, {7, 55}, {8, 10}, {8, 55}}

// Engine is the slice of the workflow engine the timetable drives.
type Engine interface {
	ReservationBatch(ctx context.Context, accts []accounts.Account)
	TravelRewardBatch(ctx context.Context, accts []accounts.Account)
	AppointmentResults(ctx context.Context) error
}

// AccountStore supplies batch membership and minute spreading.
type AccountStore interface {
	CountAll(ctx context.Context) (int64, error)
	SpreadMinutesEvenly(ctx context.Context) error
	SpreadMinutesBatch(ctx context.Context) error
	ListDueAtMinute(ctx context.Context, minute int) ([]accounts.Account, error)
}

// Catalog refreshes the upstream state ahead of the windows.
type Catalog interface {
	RefreshAll(ctx context.Context) error
}

// Register installs the standard timetable:
//
//	01:10        re-spread account minutes
//	07:10 07:55  catalog refresh
//	08:10 08:55  catalog refresh
//	09:00-09:59  reservation batch for accounts due this minute
//	11:00-11:59  travel reward batch for accounts due this minute
//	18:05        collect reservation results
func Register(s *Scheduler, eng Engine, store AccountStore, cat Catalog, clk interface{ Now() time.Time }) {
	s.Add(Job{
		Name: "spread-minutes",
		Due:  At(spreadHour, spreadMinute),
		Run: func(ctx context.Context) error {
			n, err := store.CountAll(ctx)
			if err != nil {
				return err
			}
			if n > spreadThreshold {
				return store.SpreadMinutesEvenly(ctx)
			}
			return store.SpreadMinutesBatch(ctx)
		},
	})

	s.Add(Job{
		Name: "catalog-refresh",
		Due:  AtAnyOf(refreshTimes...),
		Run:  cat.RefreshAll,
	})

	s.Add(Job{
		Name: "reservation-window",
		Due:  EveryMinuteOfHour(reservationHour),
		Run: func(ctx context.Context) error {
			accts, err := store.ListDueAtMinute(ctx, clk.Now().In(cst).Minute())
			if err != nil {
				return err
			}
			eng.ReservationBatch(ctx, accts)
			return nil
		},
	})

	s.Add(Job{
		Name: "travel-window",
		Due:  EveryMinuteOfHour(travelHour),
		Run: func(ctx context.Context) error {
			accts, err := store.ListDueAtMinute(ctx, clk.Now().In(cst).Minute())
			if err != nil {
				return err
			}
			eng.TravelRewardBatch(ctx, accts)
			return nil
		},
	})

	s.Add(Job{
		Name: "collect-results",
		Due:  At(resultsHour, resultsMinute),
		Run:  eng.AppointmentResults,
	})
}
