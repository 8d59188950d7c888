package enrich

import (
	"context"
	"fmt"
	"strings"

	"dealer-backlog/internal/backlog"
	"dealer-backlog/internal/secondary"
)

// AdvisorUpdatedBy marks annotations written by the advisor sync.
const AdvisorUpdatedBy = "pg-sync"

// AdvisorSync assigns the employee who created the referenced order as the
// line's service advisor.
type AdvisorSync struct {
	Store  *backlog.Store
	Lookup secondary.Source
	Tracef func(format string, args ...any)
}

// AdvisorResult counts what an advisor sync did.
type AdvisorResult struct {
	ImportRunID     uint
	Total           int
	Updated         int
	SkippedExisting int
	NotFound        int
}

func (s *AdvisorSync) tracef(format string, args ...any) {
	if s.Tracef != nil {
		s.Tracef(format, args...)
	}
}

// Run assigns advisors for the latest main run, or every run when allRuns
// is set. Without force, lines that already have an advisor are left alone.
func (s *AdvisorSync) Run(ctx context.Context, allRuns, force bool) (AdvisorResult, error) {
	var res AdvisorResult
	runID, err := scope(ctx, s.Store, allRuns)
	if err != nil {
		return res, err
	}
	res.ImportRunID = runID

	err = s.Store.Tx(ctx, func(tx *backlog.Store) error {
		lines, err := tx.WithOrderReference(ctx, runID, nil)
		if err != nil {
			return err
		}
		res.Total = len(lines)
		s.tracef("lines with order reference: %d", res.Total)

		existing := map[uint]string{}
		if !force {
			ids := make([]uint, len(lines))
			for i, l := range lines {
				ids[i] = l.ID
			}
			if existing, err = tx.ServiceAdvisors(ctx, ids); err != nil {
				return err
			}
		}

		for _, l := range lines {
			if current := existing[l.ID]; current != "" {
				res.SkippedExisting++
				continue
			}
			ref := strings.TrimSpace(l.ReferencedOrderNumber)
			order, found, err := s.Lookup.Order(ctx, ref)
			if err != nil {
				return fmt.Errorf("line %d: %w", l.ID, err)
			}
			if !found || order.CreatedEmployeeNo == "" {
				res.NotFound++
				s.tracef("no creating employee for order %s", ref)
				continue
			}
			name, found, err := s.Lookup.EmployeeName(ctx, order.CreatedEmployeeNo)
			if err != nil {
				return fmt.Errorf("line %d: %w", l.ID, err)
			}
			if !found {
				res.NotFound++
				s.tracef("no employee name for %s", order.CreatedEmployeeNo)
				continue
			}
			if err := tx.SetServiceAdvisor(ctx, l.ID, name, AdvisorUpdatedBy); err != nil {
				return err
			}
			res.Updated++
			if res.Updated <= 5 {
				s.tracef("line %d advisor %s (order %s)", l.ID, name, ref)
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("advisor sync rolled back: %w", err)
	}
	return res, nil
}
