// Package secondary reads the dealer management system's Postgres database.
// Every query is a single-record lookup; nothing here writes.
package secondary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Order is the subset of the orders table the backlog jobs consume.
type Order struct {
	Number            string
	OrderDate         time.Time
	CustomerNumber    string
	CreatedEmployeeNo string
}

// DeliveryEvent is one delivery-note line from the warehouse system.
type DeliveryEvent struct {
	PartNumber            string
	Amount                decimal.NullDecimal
	DeliveryDate          time.Time
	PartsOrderNumber      string
	ReferencedOrderNumber string
}

// Source is the lookup surface used by the importer and the enrichment jobs.
type Source interface {
	Order(ctx context.Context, number string) (Order, bool, error)
	EmployeeName(ctx context.Context, employeeNo string) (string, bool, error)
	PartDescription(ctx context.Context, partNumber string) (string, bool, error)
}

// DeliveryFeed yields delivery events of the last daysBack days.
type DeliveryFeed interface {
	DeliveryEvents(ctx context.Context, daysBack int) ([]DeliveryEvent, error)
}

// ErrUnavailable is returned by Unavailable's delivery feed.
var ErrUnavailable = errors.New("secondary store not configured")

const (
	queryOrder = `SELECT number::text, order_date, COALESCE(order_customer::text, ''), COALESCE(created_employee_no::text, '')
		FROM orders WHERE number::text = $1 LIMIT 1`
	queryEmployee  = `SELECT COALESCE(name, '') FROM employees WHERE employee_number::text = $1 LIMIT 1`
	queryPartExact = `SELECT description FROM parts_master WHERE part_number = $1 LIMIT 1`
	// Some part-master keys are stored with leading NBSP padding.
	queryPartPadded   = `SELECT description FROM parts_master WHERE ltrim(replace(part_number, CHR(160), ' ')) = $1 LIMIT 1`
	queryDeliveryFeed = `SELECT part_number, amount::text, delivery_note_date,
			COALESCE(parts_order_number::text, ''), COALESCE(referenced_order_number::text, '')
		FROM parts_inbound_delivery_notes
		WHERE delivery_note_date >= CURRENT_DATE - $1::int
		ORDER BY delivery_note_date DESC`
)

// Store implements Source and DeliveryFeed over lib/pq.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Order(ctx context.Context, number string) (Order, bool, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return Order{}, false, nil
	}
	var (
		o         Order
		orderDate sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, queryOrder, number).
		Scan(&o.Number, &orderDate, &o.CustomerNumber, &o.CreatedEmployeeNo)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, fmt.Errorf("lookup order %s: %w", number, err)
	}
	if !orderDate.Valid {
		return Order{}, false, nil
	}
	o.OrderDate = orderDate.Time
	o.CreatedEmployeeNo = strings.TrimSpace(o.CreatedEmployeeNo)
	return o, true, nil
}

func (s *Store) EmployeeName(ctx context.Context, employeeNo string) (string, bool, error) {
	employeeNo = strings.TrimSpace(employeeNo)
	if employeeNo == "" {
		return "", false, nil
	}
	var name string
	err := s.db.QueryRowContext(ctx, queryEmployee, employeeNo).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup employee %s: %w", employeeNo, err)
	}
	name = strings.TrimSpace(name)
	return name, name != "", nil
}

func (s *Store) PartDescription(ctx context.Context, partNumber string) (string, bool, error) {
	if partNumber == "" {
		return "", false, nil
	}
	for _, query := range []string{queryPartExact, queryPartPadded} {
		var desc sql.NullString
		err := s.db.QueryRowContext(ctx, query, partNumber).Scan(&desc)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("lookup part %s: %w", partNumber, err)
		}
		if desc.Valid {
			return NormalizeDescription(desc.String), true, nil
		}
	}
	return "", false, nil
}

func (s *Store) DeliveryEvents(ctx context.Context, daysBack int) ([]DeliveryEvent, error) {
	if daysBack < 0 {
		daysBack = 0
	}
	rows, err := s.db.QueryContext(ctx, queryDeliveryFeed, daysBack)
	if err != nil {
		return nil, fmt.Errorf("query delivery notes: %w", err)
	}
	defer rows.Close()

	var events []DeliveryEvent
	for rows.Next() {
		var (
			part   sql.NullString
			amount sql.NullString
			date   sql.NullTime
			ev     DeliveryEvent
		)
		if err := rows.Scan(&part, &amount, &date, &ev.PartsOrderNumber, &ev.ReferencedOrderNumber); err != nil {
			return nil, fmt.Errorf("scan delivery note: %w", err)
		}
		ev.PartNumber = strings.TrimSpace(part.String)
		ev.Amount = ParseAmount(amount)
		if date.Valid {
			ev.DeliveryDate = date.Time
		}
		ev.PartsOrderNumber = strings.TrimSpace(ev.PartsOrderNumber)
		ev.ReferencedOrderNumber = strings.TrimSpace(ev.ReferencedOrderNumber)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ParseAmount reads a Postgres numeric rendered as text; a decimal comma is
// accepted.
func ParseAmount(raw sql.NullString) decimal.NullDecimal {
	if !raw.Valid {
		return decimal.NullDecimal{}
	}
	s := strings.ReplaceAll(strings.TrimSpace(raw.String), ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

var titleCaser = cases.Title(language.German)

// NormalizeDescription lower-cases then title-cases a part-master description.
func NormalizeDescription(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return titleCaser.String(strings.ToLower(s))
}

// Unavailable stands in when no secondary store is configured: every lookup
// misses and the delivery feed fails.
type Unavailable struct{}

func (Unavailable) Order(context.Context, string) (Order, bool, error) { return Order{}, false, nil }

func (Unavailable) EmployeeName(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (Unavailable) PartDescription(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (Unavailable) DeliveryEvents(context.Context, int) ([]DeliveryEvent, error) {
	return nil, ErrUnavailable
}
