package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a row addressed by ID does not
// exist for the given user.
var ErrNotFound = errors.New("not found")

// Absence log statuses.
const (
	AbsenceStatusActive = "active"
	AbsenceStatusEnded  = "ended"
)

// ActivityEstimate is the estimated_activity_data payload stored with an
// absence log. Fields are optional because rows are written by several
// clients.
type ActivityEstimate struct {
	EstimatedXP *float64 `json:"estimatedXp,omitempty"`
}

// AbsenceLog is a row of the user_absence_logs table.
type AbsenceLog struct {
	ID               string
	UserID           string
	Status           string
	AbsenceStartDate *string
	DaysAbsent       *int
	Estimate         *ActivityEstimate
	CreatedAt        time.Time
}

// AbsenceStatus is the read model describing a user's current absence. The
// zero value means "no active absence".
type AbsenceStatus struct {
	HasActiveAbsence bool    `json:"hasActiveAbsence"`
	AbsenceID        *string `json:"absenceId,omitempty"`
	DaysAbsent       int     `json:"daysAbsent"`
	EstimatedXP      float64 `json:"estimatedXp"`
	AbsenceStartDate *string `json:"absenceStartDate,omitempty"`
}

// StatusFromLog shapes an absence log row into an AbsenceStatus. Missing or
// negative counters become zero.
func StatusFromLog(l *AbsenceLog) AbsenceStatus {
	if l == nil {
		return AbsenceStatus{}
	}
	id := l.ID
	st := AbsenceStatus{
		HasActiveAbsence: true,
		AbsenceID:        &id,
		AbsenceStartDate: l.AbsenceStartDate,
	}
	if l.DaysAbsent != nil && *l.DaysAbsent > 0 {
		st.DaysAbsent = *l.DaysAbsent
	}
	if l.Estimate != nil && l.Estimate.EstimatedXP != nil && *l.Estimate.EstimatedXP > 0 {
		st.EstimatedXP = *l.Estimate.EstimatedXP
	}
	return st
}

// AbsenceRepository is the port for absence log persistence.
type AbsenceRepository interface {
	// LatestActiveAbsence returns the active log with the latest start date,
	// or nil if the user has none.
	LatestActiveAbsence(ctx context.Context, userID string) (*AbsenceLog, error)
	CreateAbsence(ctx context.Context, log AbsenceLog) (*AbsenceLog, error)
	UpdateAbsenceProgress(ctx context.Context, userID, id string, daysAbsent int, estimatedXP float64) error
	EndAbsence(ctx context.Context, userID, id string) error
}
