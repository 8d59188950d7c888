package backlog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dealer-backlog/internal/data"
)

// Annotation loads the annotation of a line, if one was ever written.
func (s *Store) Annotation(ctx context.Context, lineID uint) (data.BacklogAnnotation, bool, error) {
	var a data.BacklogAnnotation
	err := s.db.WithContext(ctx).Where("backlog_line_id = ?", lineID).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return data.BacklogAnnotation{}, false, nil
	}
	if err != nil {
		return data.BacklogAnnotation{}, false, fmt.Errorf("load annotation of %d: %w", lineID, err)
	}
	return a, true, nil
}

// SaveAnnotation writes every user-editable field of an annotation.
func (s *Store) SaveAnnotation(ctx context.Context, a *data.BacklogAnnotation) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "backlog_line_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"comment", "estimated_due_date", "service_advisor",
			"dunning_sent", "customer_informed", "updated_by", "updated_at",
		}),
	}).Create(a).Error
	if err != nil {
		return fmt.Errorf("save annotation of %d: %w", a.BacklogLineID, err)
	}
	return nil
}

// SetServiceAdvisor upserts only the advisor of a line's annotation.
func (s *Store) SetServiceAdvisor(ctx context.Context, lineID uint, advisor, updatedBy string) error {
	a := data.BacklogAnnotation{BacklogLineID: lineID, ServiceAdvisor: advisor, UpdatedBy: updatedBy}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "backlog_line_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"service_advisor", "updated_by", "updated_at"}),
	}).Create(&a).Error
	if err != nil {
		return fmt.Errorf("set service advisor of %d: %w", lineID, err)
	}
	return nil
}

// ServiceAdvisors maps line id to the trimmed advisor name of each given
// line that has an annotation.
func (s *Store) ServiceAdvisors(ctx context.Context, ids []uint) (map[uint]string, error) {
	out := make(map[uint]string, len(ids))
	for start := 0; start < len(ids); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		var rows []data.BacklogAnnotation
		err := s.db.WithContext(ctx).
			Select("backlog_line_id", "service_advisor").
			Where("backlog_line_id IN ?", ids[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("load service advisors: %w", err)
		}
		for _, r := range rows {
			out[r.BacklogLineID] = strings.TrimSpace(r.ServiceAdvisor)
		}
	}
	return out, nil
}
