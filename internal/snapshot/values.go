package snapshot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ParseError reports a cell value that could not be read as its field type.
// Callers store null for the field and keep the row.
type ParseError struct {
	Field  string
	Value  string
	Row    int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: %s %q: %s", e.Row, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Reason)
}

// Normalize trims and squashes internal whitespace runs to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseDecimal accepts plain numbers ("1234.5") and German notation
// ("1.234,50"). Blank input is null without error.
func ParseDecimal(raw string) (decimal.NullDecimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	if !strings.Contains(s, ",") {
		if d, err := decimal.NewFromString(s); err == nil {
			return decimal.NewNullDecimal(d), nil
		}
	}
	cleaned := CleanDecimal(s)
	if cleaned == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.NullDecimal{}, &ParseError{Value: raw, Reason: "not a number"}
	}
	return decimal.NewNullDecimal(d), nil
}

// CleanDecimal drops thousands dots and spaces and turns the decimal comma
// into a dot. A lone "-" cleans to "".
func CleanDecimal(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ",") {
		if _, err := decimal.NewFromString(s); err == nil {
			return s
		}
	}
	s = strings.NewReplacer(".", "", " ", "", "\u00a0", "").Replace(s)
	s = strings.ReplaceAll(s, ",", ".")
	if s == "-" {
		return ""
	}
	return s
}

var dottedDate = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{2,4})$`)

var knownDateLayouts = []string{
	"02.01.2006",
	"2006-01-02",
	"02-01-2006",
	"01/02/2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"02 January 2006",
	"2 January 2006",
	"January 2, 2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Spreadsheet serials outside this range are not dates.
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// ParseDate reads a cell as a calendar date: spreadsheet serial numbers,
// d.m.y with two or four digit years, a list of known layouts, and finally
// a generic parser. Blank input is null without error.
func ParseDate(raw string) (*time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < minExcelSerial || f > maxExcelSerial {
			return nil, &ParseError{Value: raw, Reason: "serial date out of range"}
		}
		t, err := excelize.ExcelDateToTime(f, false)
		if err != nil {
			return nil, &ParseError{Value: raw, Reason: err.Error()}
		}
		return calendar(t), nil
	}

	if m := dottedDate.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day || int(t.Month()) != month {
			return nil, &ParseError{Value: raw, Reason: "no such calendar day"}
		}
		return &t, nil
	}

	for _, layout := range knownDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return calendar(t), nil
		}
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil, &ParseError{Value: raw, Reason: "unrecognised date"}
	}
	return calendar(t), nil
}

func calendar(t time.Time) *time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

// FirstDigitRun returns the first run of ASCII digits in s, or "".
func FirstDigitRun(s string) string {
	start := -1
	for i, r := range s {
		isDigit := r >= '0' && r <= '9'
		if isDigit && start < 0 {
			start = i
		}
		if !isDigit && start >= 0 {
			return s[start:i]
		}
	}
	if start >= 0 {
		return s[start:]
	}
	return ""
}

// CompactPartNumber removes every space from a part number.
func CompactPartNumber(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, " ", ""))
}

// withContext fills in the field and row of a ParseError.
func withContext(err error, field string, row int) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		pe.Field = field
		pe.Row = row
		return pe
	}
	return err
}
