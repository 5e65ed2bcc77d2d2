package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"fitstatus/internal/domain"
	"fitstatus/internal/querycache"
)

const (
	// DefaultProjectionDays is the day offset used when none is given.
	DefaultProjectionDays = 30
	// BodyProjectionStaleTime is how long a cached projection is fresh.
	BodyProjectionStaleTime = 30 * time.Minute
)

const bodyProjectionQuery = "body-projection"

// ProjectionService serves body-composition projections. There is no
// projection model yet; every metric is reported as zero.
type ProjectionService struct {
	identity domain.IdentityProvider
	cache    *querycache.Client
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewProjectionService creates a ProjectionService.
func NewProjectionService(identity domain.IdentityProvider, cache *querycache.Client, log logrus.FieldLogger) *ProjectionService {
	return &ProjectionService{
		identity: identity,
		cache:    cache,
		log:      log.WithField("service", "projection"),
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *ProjectionService) WithClock(now func() time.Time) *ProjectionService {
	s.now = now
	return s
}

// Projection returns the projection daysAhead days from now, or nil when no
// user is signed in. Non-positive daysAhead selects DefaultProjectionDays.
func (s *ProjectionService) Projection(ctx context.Context, daysAhead int) *domain.BodyProjection {
	if daysAhead <= 0 {
		daysAhead = DefaultProjectionDays
	}
	userID, ok := s.identity.CurrentUserID(ctx)
	p, err := querycache.Fetch(ctx, s.cache, querycache.Query[*domain.BodyProjection]{
		Key:       querycache.Key(bodyProjectionQuery, userID, daysAhead),
		StaleTime: BodyProjectionStaleTime,
		Enabled:   ok,
		Fn: func(context.Context) (*domain.BodyProjection, error) {
			return s.placeholder(daysAhead), nil
		},
	})
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Debug("projection not awaited")
		return nil
	}
	return p
}

func (s *ProjectionService) placeholder(daysAhead int) *domain.BodyProjection {
	target := s.now().AddDate(0, 0, daysAhead)
	return &domain.BodyProjection{
		ProjectionDate: target.UTC().Format(time.RFC3339),
	}
}
