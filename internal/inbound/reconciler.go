// Package inbound closes backlog lines against warehouse delivery notes.
package inbound

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dealer-backlog/internal/backlog"
	"dealer-backlog/internal/data"
	"dealer-backlog/internal/secondary"
)

// DefaultDays is the lookback window used when the caller gives none.
const DefaultDays = 3

// tolerance absorbs rounding when comparing delivered and open quantities.
var tolerance = decimal.New(1, -6)

// OrderRef is how an aggregated delivery finds its backlog lines. It is
// either ByOrderNumber or ByReferencedOrder.
type OrderRef interface {
	Part() string
	String() string
	orderRef()
}

// ByOrderNumber matches backlog lines on their parts order number.
type ByOrderNumber struct {
	Order      string
	PartNumber string
}

// ByReferencedOrder matches backlog lines on the customer order they
// reference.
type ByReferencedOrder struct {
	Order      string
	PartNumber string
}

func (r ByOrderNumber) Part() string     { return r.PartNumber }
func (r ByReferencedOrder) Part() string { return r.PartNumber }
func (ByOrderNumber) orderRef()          {}
func (ByReferencedOrder) orderRef()      {}

func (r ByOrderNumber) String() string {
	return fmt.Sprintf("order %s / part %s", r.Order, r.PartNumber)
}

func (r ByReferencedOrder) String() string {
	return fmt.Sprintf("referenced order %s / part %s", r.Order, r.PartNumber)
}

// Delivery is the summed quantity delivered against one reference.
type Delivery struct {
	Ref      OrderRef
	Quantity decimal.Decimal
}

// Aggregate sums events per reference in first-seen order. An event with
// both references counts towards both. It returns the number of events
// skipped for a blank part, a non-positive quantity or no reference.
func Aggregate(events []secondary.DeliveryEvent) ([]Delivery, int) {
	var (
		out     []Delivery
		pos     = map[OrderRef]int{}
		skipped int
	)
	add := func(ref OrderRef, qty decimal.Decimal) {
		if i, ok := pos[ref]; ok {
			out[i].Quantity = out[i].Quantity.Add(qty)
			return
		}
		pos[ref] = len(out)
		out = append(out, Delivery{Ref: ref, Quantity: qty})
	}

	for _, ev := range events {
		if ev.PartNumber == "" || !ev.Amount.Valid || !ev.Amount.Decimal.IsPositive() {
			skipped++
			continue
		}
		if ev.PartsOrderNumber == "" && ev.ReferencedOrderNumber == "" {
			skipped++
			continue
		}
		if ev.PartsOrderNumber != "" {
			add(ByOrderNumber{Order: ev.PartsOrderNumber, PartNumber: ev.PartNumber}, ev.Amount.Decimal)
		}
		if ev.ReferencedOrderNumber != "" {
			add(ByReferencedOrder{Order: ev.ReferencedOrderNumber, PartNumber: ev.PartNumber}, ev.Amount.Decimal)
		}
	}
	return out, skipped
}

// Result of one reconciliation run.
type Result struct {
	Days      int
	Events    int
	Matched   int
	Deleted   int
	Updated   int
	Skipped   int
	Unmatched int
	Actions   []string
}

// Reconciler applies delivered quantities to matching backlog lines.
type Reconciler struct {
	Store *backlog.Store
	Feed  secondary.DeliveryFeed
	Log   logrus.FieldLogger
	// Tracef receives human-readable progress lines; may be nil.
	Tracef func(format string, args ...any)
}

func (r *Reconciler) tracef(format string, args ...any) {
	if r.Tracef != nil {
		r.Tracef(format, args...)
	}
}

// Run reconciles the delivery notes of the last days days. All writes
// happen in one transaction.
func (r *Reconciler) Run(ctx context.Context, days int) (Result, error) {
	if days < 0 {
		days = 0
	}
	res := Result{Days: days}

	events, err := r.Feed.DeliveryEvents(ctx, days)
	if err != nil {
		return res, fmt.Errorf("fetch delivery notes: %w", err)
	}
	res.Events = len(events)
	r.tracef("delivery notes (last %d days): %d", days, len(events))

	deliveries, skipped := Aggregate(events)
	res.Skipped = skipped
	if len(deliveries) == 0 {
		r.tracef("nothing to reconcile")
		return res, nil
	}

	err = r.Store.Tx(ctx, func(tx *backlog.Store) error {
		for _, d := range deliveries {
			lines, err := match(ctx, tx, d.Ref)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				res.Skipped++
				res.Unmatched++
				r.tracef("no backlog line for %s, quantity %s", d.Ref, d.Quantity)
				continue
			}
			res.Matched++
			if err := r.allocate(ctx, tx, d, lines, &res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("reconcile rolled back: %w", err)
	}
	return res, nil
}

func match(ctx context.Context, tx *backlog.Store, ref OrderRef) ([]data.BacklogLine, error) {
	switch ref := ref.(type) {
	case ByOrderNumber:
		return tx.MatchByOrderNumber(ctx, ref.Order, ref.PartNumber)
	case ByReferencedOrder:
		return tx.MatchByReferencedOrder(ctx, ref.Order, ref.PartNumber)
	default:
		return nil, fmt.Errorf("unsupported order reference %T", ref)
	}
}

// allocate walks lines oldest first. Lines without an open quantity are
// always closed; otherwise the delivered quantity closes lines until it no
// longer covers one, which is then decremented.
func (r *Reconciler) allocate(ctx context.Context, tx *backlog.Store, d Delivery, lines []data.BacklogLine, res *Result) error {
	remaining := d.Quantity
	for _, l := range lines {
		if !l.BacklogQuantity.Valid {
			if err := tx.DeleteLines(ctx, []uint{l.ID}); err != nil {
				return err
			}
			res.Deleted++
			r.action(res, "DEL id=%d (no open quantity)", l.ID)
			continue
		}
		if !remaining.IsPositive() {
			break
		}

		open := l.BacklogQuantity.Decimal
		if remaining.GreaterThanOrEqual(open.Sub(tolerance)) {
			if err := tx.DeleteLines(ctx, []uint{l.ID}); err != nil {
				return err
			}
			res.Deleted++
			r.action(res, "DEL id=%d (open %s, delivered %s)", l.ID, open, remaining)
			remaining = remaining.Sub(open)
			continue
		}

		newOpen := decimal.Max(decimal.Zero, open.Sub(remaining))
		if err := tx.SetBacklogQuantity(ctx, l.ID, newOpen); err != nil {
			return err
		}
		res.Updated++
		r.action(res, "UPD id=%d open %s -> %s (delivered %s)", l.ID, open, newOpen, remaining)
		remaining = decimal.Zero
	}
	if remaining.GreaterThan(tolerance) {
		r.tracef("INFO quantity %s left over for %s (over-delivery?)", remaining, d.Ref)
	}
	return nil
}

func (r *Reconciler) action(res *Result, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	res.Actions = append(res.Actions, line)
	r.tracef("%s", line)
	if r.Log != nil {
		r.Log.WithField("action", line).Debug("backlog line reconciled")
	}
}
