package backlog

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm/clause"

	"dealer-backlog/internal/data"
)

// Outcome reports what an upsert did to storage.
type Outcome int

const (
	Unchanged Outcome = iota
	Inserted
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// valueColumns are overwritten when a stored line's hash differs.
var valueColumns = []string{
	"import_run_id", "line_type", "order_date", "order_type", "supplier",
	"referenced_customer_number", "referenced_order_number", "description", "part_kind",
	"ordered_quantity", "ordered_value", "backlog_quantity", "backlog_value",
	"origin_code", "origin_text", "relevant", "due_date", "due_date_note",
	"source_row", "content_hash", "updated_at",
}

type indexEntry struct {
	id   uint
	hash []byte
}

// Batch applies one full snapshot inside a transaction: every line is
// upserted by natural key and Sweep then removes the stored keys the
// snapshot did not mention.
type Batch struct {
	store *Store
	runID uint
	index map[Key]indexEntry
	seen  map[Key]struct{}
}

// NewBatch loads the key index of every stored line. s should be bound to a
// transaction.
func (s *Store) NewBatch(ctx context.Context, runID uint) (*Batch, error) {
	var rows []struct {
		ID          uint
		Concern     string
		OrderNumber string
		PartNumber  string
		ContentHash []byte
	}
	err := s.db.WithContext(ctx).Model(&data.BacklogLine{}).
		Select("id", "concern", "order_number", "part_number", "content_hash").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load backlog key index: %w", err)
	}
	index := make(map[Key]indexEntry, len(rows))
	for _, r := range rows {
		index[Key{Concern: r.Concern, OrderNumber: r.OrderNumber, PartNumber: r.PartNumber}] = indexEntry{id: r.ID, hash: r.ContentHash}
	}
	return &Batch{store: s, runID: runID, index: index, seen: make(map[Key]struct{}, len(rows))}, nil
}

// Seen reports how many distinct keys the batch has accepted.
func (b *Batch) Seen() int {
	return len(b.seen)
}

// Upsert stores line under the batch's run. The content hash is computed
// here. An unchanged line only has its run and source row refreshed.
func (b *Batch) Upsert(ctx context.Context, line *data.BacklogLine) (Outcome, error) {
	key := KeyOf(line)
	line.ImportRunID = b.runID
	line.ContentHash = ContentHash(line)

	db := b.store.db.WithContext(ctx)
	existing, ok := b.index[key]
	switch {
	case ok && SameHash(existing.hash, line.ContentHash):
		err := db.Model(&data.BacklogLine{}).
			Where("id = ?", existing.id).
			UpdateColumns(map[string]any{"import_run_id": b.runID, "source_row": line.SourceRow}).Error
		if err != nil {
			return Unchanged, fmt.Errorf("refresh %s: %w", key, err)
		}
		line.ID = existing.id
		b.seen[key] = struct{}{}
		return Unchanged, nil

	case ok:
		err := db.Model(&data.BacklogLine{}).
			Where("id = ?", existing.id).
			Select(valueColumns).
			Updates(line).Error
		if err != nil {
			return Unchanged, fmt.Errorf("update %s: %w", key, err)
		}
		line.ID = existing.id
		b.index[key] = indexEntry{id: existing.id, hash: line.ContentHash}
		b.seen[key] = struct{}{}
		return Updated, nil

	default:
		line.ID = 0
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "concern"}, {Name: "order_number"}, {Name: "part_number"}},
			DoUpdates: clause.AssignmentColumns(valueColumns),
		}).Create(line).Error
		if err != nil {
			return Unchanged, fmt.Errorf("insert %s: %w", key, err)
		}
		b.index[key] = indexEntry{id: line.ID, hash: line.ContentHash}
		b.seen[key] = struct{}{}
		return Inserted, nil
	}
}

// SweepCandidate is a stored line about to be removed because the snapshot
// no longer lists it.
type SweepCandidate struct {
	LineID         uint
	Key            Key
	ServiceAdvisor string
}

// SweepNotifier is told about doomed lines while they and their annotations
// still exist. Returning an error aborts the batch.
type SweepNotifier interface {
	BeforeSweep(ctx context.Context, candidates []SweepCandidate) error
}

// NopNotifier ignores sweep notifications.
type NopNotifier struct{}

func (NopNotifier) BeforeSweep(context.Context, []SweepCandidate) error { return nil }

// Candidates lists the indexed lines the batch has not seen, ordered by id.
func (b *Batch) Candidates(ctx context.Context) ([]SweepCandidate, error) {
	var candidates []SweepCandidate
	for key, entry := range b.index {
		if _, ok := b.seen[key]; ok {
			continue
		}
		candidates = append(candidates, SweepCandidate{LineID: entry.id, Key: key})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].LineID < candidates[j].LineID })
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(candidates))
	for i, c := range candidates {
		ids[i] = c.LineID
	}
	advisors, err := b.store.ServiceAdvisors(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].ServiceAdvisor = advisors[candidates[i].LineID]
	}
	return candidates, nil
}

// Sweep deletes every unseen line with its annotation and returns what was
// removed. A nil notifier is treated as NopNotifier.
func (b *Batch) Sweep(ctx context.Context, notifier SweepNotifier) ([]SweepCandidate, error) {
	candidates, err := b.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if err := notifier.BeforeSweep(ctx, candidates); err != nil {
		return nil, fmt.Errorf("sweep notifier: %w", err)
	}

	ids := make([]uint, len(candidates))
	for i, c := range candidates {
		ids[i] = c.LineID
	}
	if err := b.store.DeleteLines(ctx, ids); err != nil {
		return nil, err
	}
	for _, c := range candidates {
		delete(b.index, c.Key)
	}
	return candidates, nil
}
