// Package rules decides when an imported order line becomes backlog.
package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"dealer-backlog/internal/data"
	"dealer-backlog/internal/secondary"
)

// DefaultOffsetDays applies when no delivery term matches the order type.
const DefaultOffsetDays = 1

// OrderLookup resolves an external order reference.
type OrderLookup interface {
	Order(ctx context.Context, number string) (secondary.Order, bool, error)
}

// Decision is the outcome for one line. DueDate is nil when the anchor date
// could not be resolved; Note then says why.
type Decision struct {
	Relevant bool
	DueDate  *time.Time
	Note     *string
}

// Engine evaluates delivery term rules. It is built once per import run.
type Engine struct {
	terms  map[int]data.DeliveryTermRule
	orders OrderLookup
}

func NewEngine(terms []data.DeliveryTermRule, orders OrderLookup) *Engine {
	m := make(map[int]data.DeliveryTermRule, len(terms))
	for _, t := range terms {
		m[t.OrderType] = t
	}
	return &Engine{terms: m, orders: orders}
}

// LoadTerms reads every configured rule.
func LoadTerms(ctx context.Context, db *gorm.DB) ([]data.DeliveryTermRule, error) {
	var terms []data.DeliveryTermRule
	if err := db.WithContext(ctx).Order("order_type").Find(&terms).Error; err != nil {
		return nil, fmt.Errorf("load delivery terms: %w", err)
	}
	return terms, nil
}

// Rule returns the rule configured for an order-type code, if any.
func (e *Engine) Rule(orderType string) (data.DeliveryTermRule, bool) {
	code, ok := ParseOrderType(orderType)
	if !ok {
		return data.DeliveryTermRule{}, false
	}
	t, ok := e.terms[code]
	return t, ok
}

// Evaluate computes relevance and due date. snapshotDate must be a calendar
// date (midnight UTC). A non-nil error reports a failed lookup; the returned
// Decision is still usable and carries a note.
func (e *Engine) Evaluate(ctx context.Context, orderType, orderRef string, snapshotDate time.Time) (Decision, error) {
	term, ok := e.Rule(orderType)
	if !ok {
		return decided(snapshotDate.AddDate(0, 0, DefaultOffsetDays)), nil
	}
	if !term.UseOrderDate {
		return decided(snapshotDate.AddDate(0, 0, term.OffsetDays)), nil
	}

	orderRef = strings.TrimSpace(orderRef)
	if orderRef == "" {
		return unresolved("order date unavailable: no referenced order number"), nil
	}
	if e.orders == nil {
		return unresolved(fmt.Sprintf("order date unavailable: order %s not found", orderRef)), nil
	}
	order, found, err := e.orders.Order(ctx, orderRef)
	if err != nil {
		return unresolved(fmt.Sprintf("order date unavailable: lookup of order %s failed", orderRef)), err
	}
	if !found {
		return unresolved(fmt.Sprintf("order date unavailable: order %s not found", orderRef)), nil
	}
	return decided(CalendarDate(order.OrderDate).AddDate(0, 0, term.OffsetDays)), nil
}

func decided(due time.Time) Decision {
	return Decision{Relevant: true, DueDate: &due}
}

func unresolved(note string) Decision {
	return Decision{Relevant: true, Note: &note}
}

// ParseOrderType keeps the digits of a code such as "7" or "BA 07".
func ParseOrderType(s string) (int, bool) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// CalendarDate drops the clock part and rebases the date on UTC.
func CalendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SnapshotDate is the calendar date of now in loc.
func SnapshotDate(now time.Time, loc *time.Location) time.Time {
	if loc != nil {
		now = now.In(loc)
	}
	return CalendarDate(now)
}
