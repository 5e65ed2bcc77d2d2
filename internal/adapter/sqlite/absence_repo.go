package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"fitstatus/internal/domain"
)

var _ domain.AbsenceRepository = (*DB)(nil)

// LatestActiveAbsence returns the user's active absence with the latest
// start date. Rows without a start date sort first, as in PostgreSQL.
func (d *DB) LatestActiveAbsence(ctx context.Context, userID string) (*domain.AbsenceLog, error) {
	var m absenceLogModel
	err := d.gorm.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.AbsenceStatusActive).
		Order("absence_start_date IS NULL DESC").
		Order("absence_start_date DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

func (m *absenceLogModel) toDomain() *domain.AbsenceLog {
	l := &domain.AbsenceLog{
		ID:               m.ID,
		UserID:           m.UserID,
		Status:           m.Status,
		AbsenceStartDate: m.AbsenceStartDate,
		DaysAbsent:       m.DaysAbsent,
		CreatedAt:        m.CreatedAt,
	}
	if m.EstimatedActivityData != nil {
		var e domain.ActivityEstimate
		if err := json.Unmarshal([]byte(*m.EstimatedActivityData), &e); err == nil {
			l.Estimate = &e
		}
	}
	return l
}

// CreateAbsence inserts a new absence log.
func (d *DB) CreateAbsence(ctx context.Context, l domain.AbsenceLog) (*domain.AbsenceLog, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	m := absenceLogModel{
		ID:               l.ID,
		UserID:           l.UserID,
		Status:           l.Status,
		AbsenceStartDate: l.AbsenceStartDate,
		DaysAbsent:       l.DaysAbsent,
		CreatedAt:        l.CreatedAt,
	}
	if l.Estimate != nil {
		b, err := json.Marshal(l.Estimate)
		if err != nil {
			return nil, fmt.Errorf("encode estimate: %w", err)
		}
		s := string(b)
		m.EstimatedActivityData = &s
	}
	if err := d.gorm.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

// UpdateAbsenceProgress sets days_absent and merges estimatedXp into
// estimated_activity_data, keeping any other keys.
func (d *DB) UpdateAbsenceProgress(ctx context.Context, userID, id string, daysAbsent int, estimatedXP float64) error {
	return d.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m absenceLogModel
		err := tx.Where("id = ? AND user_id = ?", id, userID).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		data := map[string]any{}
		if m.EstimatedActivityData != nil {
			_ = json.Unmarshal([]byte(*m.EstimatedActivityData), &data)
			if data == nil {
				data = map[string]any{}
			}
		}
		data["estimatedXp"] = estimatedXP
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		return tx.Model(&absenceLogModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"days_absent":             daysAbsent,
				"estimated_activity_data": string(b),
			}).Error
	})
}

// EndAbsence marks a user's absence as ended.
func (d *DB) EndAbsence(ctx context.Context, userID, id string) error {
	res := d.gorm.WithContext(ctx).Model(&absenceLogModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("status", domain.AbsenceStatusEnded)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
