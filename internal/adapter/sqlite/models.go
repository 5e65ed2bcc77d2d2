package sqlite

import "time"

type userModel struct {
	ID           string    `gorm:"primaryKey;type:text"`
	Username     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null;default:''"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (userModel) TableName() string { return "users" }

type sessionModel struct {
	Token     string    `gorm:"primaryKey;type:text"`
	UserID    string    `gorm:"not null;index"`
	UserAgent string    `gorm:"not null;default:''"`
	IP        string    `gorm:"not null;default:''"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (sessionModel) TableName() string { return "sessions" }

type absenceLogModel struct {
	ID     string `gorm:"primaryKey;type:text"`
	UserID string `gorm:"not null;index:idx_user_absence_logs_active,priority:1"`
	Status string `gorm:"type:varchar(10);not null;index:idx_user_absence_logs_active,priority:2"`
	// YYYY-MM-DD, so text order is date order.
	AbsenceStartDate      *string `gorm:"type:text;index:idx_user_absence_logs_active,priority:3"`
	DaysAbsent            *int
	EstimatedActivityData *string `gorm:"type:text"`
	CreatedAt             time.Time
}

func (absenceLogModel) TableName() string { return "user_absence_logs" }
