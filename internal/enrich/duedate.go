// Package enrich fills backlog fields from the read-only dealer management
// store after an import.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dealer-backlog/internal/backlog"
	"dealer-backlog/internal/data"
	"dealer-backlog/internal/rules"
	"dealer-backlog/internal/secondary"
)

// ErrNoImportRun is returned when only the latest run is requested and no
// main import has completed yet.
var ErrNoImportRun = backlog.ErrNoImportRun

// DueDateOffsetDays is added to the order date.
const DueDateOffsetDays = 1

// DueDateSync recomputes due dates of order-date anchored lines for a fixed
// set of concerns.
type DueDateSync struct {
	Store  *backlog.Store
	Lookup secondary.Source
	// Concerns are compared upper-cased.
	Concerns     []string
	MinOrderType int
	MaxOrderType int
	Tracef       func(format string, args ...any)
}

// DueDateResult counts what a due-date sync did.
type DueDateResult struct {
	ImportRunID uint
	Total       int
	Updated     int
	SameAlready int
	NotFound    int
}

func (s *DueDateSync) tracef(format string, args ...any) {
	if s.Tracef != nil {
		s.Tracef(format, args...)
	}
}

// Run updates the latest main run, or every run when allRuns is set.
func (s *DueDateSync) Run(ctx context.Context, allRuns bool) (DueDateResult, error) {
	var res DueDateResult
	runID, err := scope(ctx, s.Store, allRuns)
	if err != nil {
		return res, err
	}
	res.ImportRunID = runID
	if runID == 0 {
		s.tracef("working on all runs (backfill)")
	} else {
		s.tracef("working on import run %d", runID)
	}

	concerns := make([]string, 0, len(s.Concerns))
	for _, c := range s.Concerns {
		concerns = append(concerns, strings.ToUpper(strings.TrimSpace(c)))
	}

	err = s.Store.Tx(ctx, func(tx *backlog.Store) error {
		lines, err := tx.WithOrderReference(ctx, runID, concerns)
		if err != nil {
			return err
		}
		for _, l := range lines {
			code, ok := rules.ParseOrderType(l.OrderType)
			if !ok || code < s.MinOrderType || code > s.MaxOrderType {
				continue
			}
			res.Total++

			ref := strings.TrimSpace(l.ReferencedOrderNumber)
			order, found, err := s.Lookup.Order(ctx, ref)
			if err != nil {
				return fmt.Errorf("line %d: %w", l.ID, err)
			}
			if !found {
				res.NotFound++
				s.tracef("order %s not found (line %d)", ref, l.ID)
				continue
			}

			due := rules.CalendarDate(order.OrderDate).AddDate(0, 0, DueDateOffsetDays)
			if sameDay(l, due) {
				res.SameAlready++
				continue
			}
			if err := tx.SetDueDate(ctx, l.ID, due); err != nil {
				return err
			}
			res.Updated++
			if res.Updated <= 5 {
				s.tracef("line %d due %s (order %s)", l.ID, due.Format("2006-01-02"), ref)
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("due-date sync rolled back: %w", err)
	}
	return res, nil
}

// sameDay reports whether the line already carries due and no rule note.
func sameDay(l data.BacklogLine, due time.Time) bool {
	if l.DueDate == nil || l.DueDateNote != nil {
		return false
	}
	return rules.CalendarDate(*l.DueDate).Equal(due)
}

// scope resolves the run a sync works on; 0 means every run.
func scope(ctx context.Context, store *backlog.Store, allRuns bool) (uint, error) {
	if allRuns {
		return 0, nil
	}
	run, err := store.LatestRun(ctx, data.SourceMain)
	if err != nil {
		return 0, err
	}
	return run.ID, nil
}
