package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"fitstatus/internal/domain"
	"fitstatus/internal/querycache"
)

// AbsenceStatusStaleTime is how long a cached absence status is fresh.
const AbsenceStatusStaleTime = 5 * time.Minute

const absenceStatusQuery = "absence-status"

var (
	// ErrNotSignedIn indicates that the operation requires a user.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrNoActiveAbsence indicates that the user has no active absence.
	ErrNoActiveAbsence = errors.New("no active absence")
	// ErrAbsenceAlreadyActive indicates that an absence is already running.
	ErrAbsenceAlreadyActive = errors.New("an absence is already active")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

// AbsenceService serves the active absence status of the signed-in user.
type AbsenceService struct {
	repo     domain.AbsenceRepository
	identity domain.IdentityProvider
	cache    *querycache.Client
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewAbsenceService creates an AbsenceService.
func NewAbsenceService(repo domain.AbsenceRepository, identity domain.IdentityProvider, cache *querycache.Client, log logrus.FieldLogger) *AbsenceService {
	return &AbsenceService{
		repo:     repo,
		identity: identity,
		cache:    cache,
		log:      log.WithField("service", "absence"),
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *AbsenceService) WithClock(now func() time.Time) *AbsenceService {
	s.now = now
	return s
}

func absenceStatusKey(userID string) string {
	return querycache.Key(absenceStatusQuery, userID)
}

// Status returns the user's active absence. It never fails: without a user,
// on query errors, and when no active absence exists it returns the zero
// AbsenceStatus.
func (s *AbsenceService) Status(ctx context.Context) domain.AbsenceStatus {
	userID, ok := s.identity.CurrentUserID(ctx)
	st, err := querycache.Fetch(ctx, s.cache, querycache.Query[domain.AbsenceStatus]{
		Key:       absenceStatusKey(userID),
		StaleTime: AbsenceStatusStaleTime,
		Enabled:   ok,
		Fn: func(ctx context.Context) (domain.AbsenceStatus, error) {
			return s.fetchStatus(ctx, userID), nil
		},
	})
	if err != nil {
		// Only a cancelled caller gets here.
		s.log.WithError(err).WithField("user_id", userID).Debug("absence status not awaited")
		return domain.AbsenceStatus{}
	}
	return st
}

func (s *AbsenceService) fetchStatus(ctx context.Context, userID string) domain.AbsenceStatus {
	l, err := s.repo.LatestActiveAbsence(ctx, userID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("absence status query failed")
		return domain.AbsenceStatus{}
	}
	return domain.StatusFromLog(l)
}

// Start opens a new active absence beginning on startDate (YYYY-MM-DD). An
// empty startDate means today.
func (s *AbsenceService) Start(ctx context.Context, startDate string) (*domain.AbsenceLog, error) {
	userID, ok := s.identity.CurrentUserID(ctx)
	if !ok {
		return nil, ErrNotSignedIn
	}
	if startDate == "" {
		startDate = s.now().In(time.Local).Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", startDate); err != nil {
		return nil, fmt.Errorf("%w: startDate must be YYYY-MM-DD", ErrInvalidInput)
	}

	active, err := s.repo.LatestActiveAbsence(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup active absence: %w", err)
	}
	if active != nil {
		return nil, ErrAbsenceAlreadyActive
	}

	zeroDays := 0
	l, err := s.repo.CreateAbsence(ctx, domain.AbsenceLog{
		UserID:           userID,
		Status:           domain.AbsenceStatusActive,
		AbsenceStartDate: &startDate,
		DaysAbsent:       &zeroDays,
		CreatedAt:        s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create absence: %w", err)
	}
	s.cache.Invalidate(absenceStatusKey(userID))
	s.log.WithFields(logrus.Fields{"user_id": userID, "absence_id": l.ID}).Info("absence started")
	return l, nil
}

// Record updates the counters of the active absence.
func (s *AbsenceService) Record(ctx context.Context, daysAbsent int, estimatedXP float64) error {
	if daysAbsent < 0 {
		return fmt.Errorf("%w: daysAbsent must be >= 0", ErrInvalidInput)
	}
	if estimatedXP < 0 {
		return fmt.Errorf("%w: estimatedXp must be >= 0", ErrInvalidInput)
	}
	userID, active, err := s.active(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateAbsenceProgress(ctx, userID, active.ID, daysAbsent, estimatedXP); err != nil {
		return fmt.Errorf("update absence: %w", err)
	}
	s.cache.Invalidate(absenceStatusKey(userID))
	return nil
}

// End closes the active absence.
func (s *AbsenceService) End(ctx context.Context) (string, error) {
	userID, active, err := s.active(ctx)
	if err != nil {
		return "", err
	}
	if err := s.repo.EndAbsence(ctx, userID, active.ID); err != nil {
		return "", fmt.Errorf("end absence: %w", err)
	}
	s.cache.Invalidate(absenceStatusKey(userID))
	s.log.WithFields(logrus.Fields{"user_id": userID, "absence_id": active.ID}).Info("absence ended")
	return active.ID, nil
}

func (s *AbsenceService) active(ctx context.Context) (string, *domain.AbsenceLog, error) {
	userID, ok := s.identity.CurrentUserID(ctx)
	if !ok {
		return "", nil, ErrNotSignedIn
	}
	l, err := s.repo.LatestActiveAbsence(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("lookup active absence: %w", err)
	}
	if l == nil {
		return "", nil, ErrNoActiveAbsence
	}
	return userID, l, nil
}
