// Package secondarytest provides an in-memory stand-in for the read-only
// dealer management store.
package secondarytest

import (
	"context"

	"dealer-backlog/internal/secondary"
)

// Fake implements secondary.Source and secondary.DeliveryFeed from maps.
type Fake struct {
	Orders       map[string]secondary.Order
	Employees    map[string]string
	Descriptions map[string]string
	Events       []secondary.DeliveryEvent

	// Err, when set, is returned by every call.
	Err error

	OrderCalls    int
	EmployeeCalls int
	PartCalls     int
	FeedDays      []int
}

func New() *Fake {
	return &Fake{
		Orders:       map[string]secondary.Order{},
		Employees:    map[string]string{},
		Descriptions: map[string]string{},
	}
}

func (f *Fake) Order(_ context.Context, number string) (secondary.Order, bool, error) {
	f.OrderCalls++
	if f.Err != nil {
		return secondary.Order{}, false, f.Err
	}
	o, ok := f.Orders[number]
	return o, ok, nil
}

func (f *Fake) EmployeeName(_ context.Context, employeeNo string) (string, bool, error) {
	f.EmployeeCalls++
	if f.Err != nil {
		return "", false, f.Err
	}
	name, ok := f.Employees[employeeNo]
	return name, ok, nil
}

func (f *Fake) PartDescription(_ context.Context, partNumber string) (string, bool, error) {
	f.PartCalls++
	if f.Err != nil {
		return "", false, f.Err
	}
	desc, ok := f.Descriptions[partNumber]
	return desc, ok, nil
}

func (f *Fake) DeliveryEvents(_ context.Context, daysBack int) ([]secondary.DeliveryEvent, error) {
	f.FeedDays = append(f.FeedDays, daysBack)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Events, nil
}
