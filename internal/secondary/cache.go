package secondary

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

type orderEntry struct {
	order Order
	found bool
}

type stringEntry struct {
	value string
	found bool
}

// Cached memoises lookups for the lifetime of one job. Misses are cached as
// well; errors are not.
type Cached struct {
	src          Source
	orders       *lru.Cache[string, orderEntry]
	employees    *lru.Cache[string, stringEntry]
	descriptions *lru.Cache[string, stringEntry]
}

// NewCached wraps src. A size <= 0 uses the default.
func NewCached(src Source, size int) *Cached {
	if size <= 0 {
		size = defaultCacheSize
	}
	orders, _ := lru.New[string, orderEntry](size)
	employees, _ := lru.New[string, stringEntry](size)
	descriptions, _ := lru.New[string, stringEntry](size)
	return &Cached{src: src, orders: orders, employees: employees, descriptions: descriptions}
}

func (c *Cached) Order(ctx context.Context, number string) (Order, bool, error) {
	if e, ok := c.orders.Get(number); ok {
		return e.order, e.found, nil
	}
	o, found, err := c.src.Order(ctx, number)
	if err != nil {
		return Order{}, false, err
	}
	c.orders.Add(number, orderEntry{order: o, found: found})
	return o, found, nil
}

func (c *Cached) EmployeeName(ctx context.Context, employeeNo string) (string, bool, error) {
	if e, ok := c.employees.Get(employeeNo); ok {
		return e.value, e.found, nil
	}
	name, found, err := c.src.EmployeeName(ctx, employeeNo)
	if err != nil {
		return "", false, err
	}
	c.employees.Add(employeeNo, stringEntry{value: name, found: found})
	return name, found, nil
}

func (c *Cached) PartDescription(ctx context.Context, partNumber string) (string, bool, error) {
	if e, ok := c.descriptions.Get(partNumber); ok {
		return e.value, e.found, nil
	}
	desc, found, err := c.src.PartDescription(ctx, partNumber)
	if err != nil {
		return "", false, err
	}
	c.descriptions.Add(partNumber, stringEntry{value: desc, found: found})
	return desc, found, nil
}
