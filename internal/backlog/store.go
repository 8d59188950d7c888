// Package backlog persists backlog lines and their annotations.
package backlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"dealer-backlog/internal/data"
)

const deleteChunkSize = 1000

// Key is the natural key of a BacklogLine.
type Key struct {
	Concern     string
	OrderNumber string
	PartNumber  string
}

func KeyOf(l *data.BacklogLine) Key {
	return Key{Concern: l.Concern, OrderNumber: l.OrderNumber, PartNumber: l.PartNumber}
}

func (k Key) String() string {
	return k.Concern + " | " + k.OrderNumber + " | " + k.PartNumber
}

// Store wraps the primary database. A Store obtained inside Tx is bound to
// that transaction.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers composing their own queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Tx runs fn in a transaction. Any error returned by fn, or a panic, rolls
// the transaction back.
func (s *Store) Tx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// CreateRun inserts an ImportRun and fills its ID.
func (s *Store) CreateRun(ctx context.Context, run *data.ImportRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create import run: %w", err)
	}
	return nil
}

// FinishRun writes the row counters of a run.
func (s *Store) FinishRun(ctx context.Context, runID uint, rowsTotal, rowsOK int) error {
	err := s.db.WithContext(ctx).Model(&data.ImportRun{}).
		Where("id = ?", runID).
		UpdateColumns(map[string]any{"rows_total": rowsTotal, "rows_ok": rowsOK}).Error
	if err != nil {
		return fmt.Errorf("finish import run %d: %w", runID, err)
	}
	return nil
}

// ErrNoImportRun means no completed run exists for the requested source.
var ErrNoImportRun = errors.New("no import run found")

// LatestRun returns the most recent run of a source system that accepted
// at least one row.
func (s *Store) LatestRun(ctx context.Context, sourceSystem string) (data.ImportRun, error) {
	var run data.ImportRun
	err := s.db.WithContext(ctx).
		Where("source_system = ? AND rows_ok > 0", sourceSystem).
		Order("imported_at DESC").Order("id DESC").
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return data.ImportRun{}, ErrNoImportRun
	}
	if err != nil {
		return data.ImportRun{}, fmt.Errorf("latest import run: %w", err)
	}
	return run, nil
}

// IgnoredConcerns returns the configured ignore list.
func (s *Store) IgnoredConcerns(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).Model(&data.IgnoredConcern{}).Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("load ignored concerns: %w", err)
	}
	return names, nil
}

// Get loads one line by id.
func (s *Store) Get(ctx context.Context, id uint) (data.BacklogLine, bool, error) {
	var line data.BacklogLine
	err := s.db.WithContext(ctx).Take(&line, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return data.BacklogLine{}, false, nil
	}
	if err != nil {
		return data.BacklogLine{}, false, err
	}
	return line, true, nil
}

// MatchByOrderNumber returns lines of a parts order for one part, oldest first.
func (s *Store) MatchByOrderNumber(ctx context.Context, orderNumber, partNumber string) ([]data.BacklogLine, error) {
	return s.match(ctx, "order_number", orderNumber, partNumber)
}

// MatchByReferencedOrder returns lines referencing a customer order for one
// part, oldest first.
func (s *Store) MatchByReferencedOrder(ctx context.Context, orderNumber, partNumber string) ([]data.BacklogLine, error) {
	return s.match(ctx, "referenced_order_number", orderNumber, partNumber)
}

func (s *Store) match(ctx context.Context, column, ref, partNumber string) ([]data.BacklogLine, error) {
	var lines []data.BacklogLine
	err := s.db.WithContext(ctx).
		Where("part_number = ?", partNumber).
		Where(column+" = ?", ref).
		Order("id").
		Find(&lines).Error
	if err != nil {
		return nil, fmt.Errorf("match backlog lines by %s: %w", column, err)
	}
	return lines, nil
}

// WithOrderReference lists lines carrying a referenced order number, oldest
// first. runID 0 spans every run; an empty concerns list spans every concern.
func (s *Store) WithOrderReference(ctx context.Context, runID uint, concerns []string) ([]data.BacklogLine, error) {
	q := s.db.WithContext(ctx).
		Where("referenced_order_number IS NOT NULL AND referenced_order_number <> ''")
	if runID != 0 {
		q = q.Where("import_run_id = ?", runID)
	}
	if len(concerns) > 0 {
		q = q.Where("UPPER(concern) IN ?", concerns)
	}
	var lines []data.BacklogLine
	if err := q.Order("id").Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("select lines with order reference: %w", err)
	}
	return lines, nil
}

// DeleteLines removes lines and their annotations.
func (s *Store) DeleteLines(ctx context.Context, ids []uint) error {
	for start := 0; start < len(ids); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		if err := s.db.WithContext(ctx).Where("backlog_line_id IN ?", chunk).Delete(&data.BacklogAnnotation{}).Error; err != nil {
			return fmt.Errorf("delete annotations: %w", err)
		}
		if err := s.db.WithContext(ctx).Where("id IN ?", chunk).Delete(&data.BacklogLine{}).Error; err != nil {
			return fmt.Errorf("delete backlog lines: %w", err)
		}
	}
	return nil
}

// SetBacklogQuantity overwrites the open quantity of a line and refreshes
// its content hash.
func (s *Store) SetBacklogQuantity(ctx context.Context, id uint, qty decimal.Decimal) error {
	err := s.mutate(ctx, id, func(l *data.BacklogLine) {
		l.BacklogQuantity = decimal.NewNullDecimal(qty)
	}, "backlog_quantity")
	if err != nil {
		return fmt.Errorf("update backlog quantity of %d: %w", id, err)
	}
	return nil
}

// SetDueDate writes a recomputed due date, clears any rule note and
// refreshes the content hash.
func (s *Store) SetDueDate(ctx context.Context, id uint, due time.Time) error {
	err := s.mutate(ctx, id, func(l *data.BacklogLine) {
		l.DueDate = &due
		l.DueDateNote = nil
	}, "due_date", "due_date_note")
	if err != nil {
		return fmt.Errorf("update due date of %d: %w", id, err)
	}
	return nil
}

// mutate changes value fields outside an import. The stored hash has to
// follow, otherwise the next import of the same snapshot takes the
// unchanged path and keeps the mutated values.
func (s *Store) mutate(ctx context.Context, id uint, apply func(*data.BacklogLine), columns ...string) error {
	var line data.BacklogLine
	if err := s.db.WithContext(ctx).Take(&line, id).Error; err != nil {
		return err
	}
	apply(&line)
	line.ContentHash = ContentHash(&line)
	columns = append(columns, "content_hash", "updated_at")
	return s.db.WithContext(ctx).Model(&line).Select(columns).Updates(&line).Error
}

// Overdue lists relevant lines whose due date is on or before asOf. Lines
// without a due date never qualify.
func (s *Store) Overdue(ctx context.Context, asOf time.Time) ([]data.BacklogLine, error) {
	var lines []data.BacklogLine
	err := s.db.WithContext(ctx).
		Where("relevant = ? AND due_date IS NOT NULL AND due_date <= ?", true, asOf).
		Order("due_date").Order("id").
		Find(&lines).Error
	if err != nil {
		return nil, fmt.Errorf("list overdue lines: %w", err)
	}
	return lines, nil
}
