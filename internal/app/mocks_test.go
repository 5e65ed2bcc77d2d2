package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"fitstatus/internal/domain"
	"fitstatus/internal/querycache"
)

func nullLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}

func newCache() *querycache.Client {
	l, _ := nullLogger()
	return querycache.New(querycache.Options{Logger: l})
}

// testClock is a manually advanced time source for cache staleness.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClockedCache(clock *testClock) *querycache.Client {
	l, _ := nullLogger()
	return querycache.New(querycache.Options{Now: clock.Now, Logger: l})
}

// staticIdentity is an IdentityProvider returning a fixed user.
type staticIdentity string

func (s staticIdentity) CurrentUserID(context.Context) (string, bool) {
	return string(s), s != ""
}

type mockUserRepo struct {
	getByUsernameFn func(ctx context.Context, username string) (*domain.User, error)
	getByIDFn       func(ctx context.Context, id string) (*domain.User, error)
	createFn        func(ctx context.Context, username, passwordHash string) (*domain.User, error)
	countFn         func(ctx context.Context) (int, error)
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	if m.getByUsernameFn != nil {
		return m.getByUsernameFn(ctx, username)
	}
	return nil, nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	if m.createFn != nil {
		return m.createFn(ctx, username, passwordHash)
	}
	return &domain.User{ID: "u1", Username: username, PasswordHash: passwordHash}, nil
}

func (m *mockUserRepo) Count(ctx context.Context) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx)
	}
	return 0, nil
}

type mockSessionRepo struct {
	createFn        func(ctx context.Context, s domain.Session) error
	getByTokenFn    func(ctx context.Context, token string) (*domain.Session, error)
	deleteFn        func(ctx context.Context, token string) error
	deleteExpiredFn func(ctx context.Context, now time.Time) (int64, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, s domain.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, s)
	}
	return nil
}

func (m *mockSessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	if m.getByTokenFn != nil {
		return m.getByTokenFn(ctx, token)
	}
	return nil, nil
}

func (m *mockSessionRepo) Delete(ctx context.Context, token string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, token)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, now)
	}
	return 0, nil
}

type mockAbsenceRepo struct {
	latestFn func(ctx context.Context, userID string) (*domain.AbsenceLog, error)
	createFn func(ctx context.Context, l domain.AbsenceLog) (*domain.AbsenceLog, error)
	updateFn func(ctx context.Context, userID, id string, days int, xp float64) error
	endFn    func(ctx context.Context, userID, id string) error
}

func (m *mockAbsenceRepo) LatestActiveAbsence(ctx context.Context, userID string) (*domain.AbsenceLog, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockAbsenceRepo) CreateAbsence(ctx context.Context, l domain.AbsenceLog) (*domain.AbsenceLog, error) {
	if m.createFn != nil {
		return m.createFn(ctx, l)
	}
	l.ID = "new"
	return &l, nil
}

func (m *mockAbsenceRepo) UpdateAbsenceProgress(ctx context.Context, userID, id string, days int, xp float64) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, id, days, xp)
	}
	return nil
}

func (m *mockAbsenceRepo) EndAbsence(ctx context.Context, userID, id string) error {
	if m.endFn != nil {
		return m.endFn(ctx, userID, id)
	}
	return nil
}

var errDB = errors.New("db down")
