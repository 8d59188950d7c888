package backlog

import (
	"bytes"
	"crypto/sha256"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dealer-backlog/internal/data"
)

// ContentHash digests every value-bearing field of a line. Bookkeeping
// fields (id, import run, source row, timestamps) are excluded so an
// unchanged line hashes the same across runs.
func ContentHash(l *data.BacklogLine) []byte {
	parts := []string{
		l.LineType,
		l.Concern,
		hashDate(l.OrderDate),
		l.OrderNumber,
		l.OrderType,
		l.Supplier,
		l.ReferencedCustomerNumber,
		l.ReferencedOrderNumber,
		l.PartNumber,
		l.Description,
		l.PartKind,
		hashDecimal(l.OrderedQuantity),
		hashDecimal(l.OrderedValue),
		hashDecimal(l.BacklogQuantity),
		hashDecimal(l.BacklogValue),
		l.OriginCode,
		l.OriginText,
		hashDate(l.DueDate),
		strconv.FormatBool(l.Relevant),
		hashString(l.DueDateNote),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return sum[:]
}

// SameHash compares two digests.
func SameHash(a, b []byte) bool {
	return len(a) == sha256.Size && bytes.Equal(a, b)
}

func hashDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func hashDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func hashString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
