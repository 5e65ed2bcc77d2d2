package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"fitstatus/internal/domain"
)

var _ domain.AbsenceRepository = (*DB)(nil)

// LatestActiveAbsence returns the user's active absence with the latest start date.
func (d *DB) LatestActiveAbsence(ctx context.Context, userID string) (*domain.AbsenceLog, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT id, user_id, status, absence_start_date, days_absent, estimated_activity_data, created_at
		FROM user_absence_logs
		WHERE user_id = $1 AND status = 'active'
		ORDER BY absence_start_date DESC
		LIMIT 1;`,
		userID,
	)

	var (
		l     domain.AbsenceLog
		start sql.NullTime
		days  sql.NullInt64
		data  []byte
	)
	if err := row.Scan(&l.ID, &l.UserID, &l.Status, &start, &days, &data, &l.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if start.Valid {
		s := start.Time.Format("2006-01-02")
		l.AbsenceStartDate = &s
	}
	if days.Valid {
		n := int(days.Int64)
		l.DaysAbsent = &n
	}
	l.Estimate = decodeEstimate(data)
	return &l, nil
}

// decodeEstimate parses estimated_activity_data. Rows written by other
// clients may carry unexpected shapes; those are treated as absent.
func decodeEstimate(data []byte) *domain.ActivityEstimate {
	if len(data) == 0 {
		return nil
	}
	var e domain.ActivityEstimate
	if err := json.Unmarshal(data, &e); err != nil {
		return nil
	}
	return &e
}

// CreateAbsence inserts a new absence log.
func (d *DB) CreateAbsence(ctx context.Context, l domain.AbsenceLog) (*domain.AbsenceLog, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	var data any
	if l.Estimate != nil {
		b, err := json.Marshal(l.Estimate)
		if err != nil {
			return nil, fmt.Errorf("encode estimate: %w", err)
		}
		data = string(b)
	}

	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO user_absence_logs(id, user_id, status, absence_start_date, days_absent, estimated_activity_data, created_at)
		VALUES($1, $2, $3, $4::date, $5, $6::jsonb, $7);`,
		l.ID, l.UserID, l.Status, l.AbsenceStartDate, l.DaysAbsent, data, l.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateAbsenceProgress sets days_absent and merges estimatedXp into
// estimated_activity_data, keeping any other keys.
func (d *DB) UpdateAbsenceProgress(ctx context.Context, userID, id string, daysAbsent int, estimatedXP float64) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE user_absence_logs
		SET days_absent = $3,
			estimated_activity_data = COALESCE(estimated_activity_data, '{}'::jsonb) || jsonb_build_object('estimatedXp', $4::double precision)
		WHERE id = $1 AND user_id = $2;`,
		id, userID, daysAbsent, estimatedXP,
	)
	return affectedOne(res, err)
}

// EndAbsence marks a user's absence as ended.
func (d *DB) EndAbsence(ctx context.Context, userID, id string) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE user_absence_logs SET status = 'ended' WHERE id = $1 AND user_id = $2;`,
		id, userID,
	)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
