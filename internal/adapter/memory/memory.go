// Package memory implements an in-memory repository for development and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fitstatus/internal/domain"
)

// DB implements an in-memory database storage.
type DB struct {
	mu       sync.Mutex
	absences []domain.AbsenceLog
	users    []*domain.User
	sessions map[string]*domain.Session

	// FailNext makes the next repository call return the given error.
	FailNext error
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		sessions: make(map[string]*domain.Session),
	}
}

// Ensure interfaces are met.
var _ domain.AbsenceRepository = (*DB)(nil)
var _ domain.UserRepository = (*DB)(nil)
var _ domain.SessionRepository = (*SessionRepo)(nil)

func (db *DB) takeFailure() error {
	err := db.FailNext
	db.FailNext = nil
	return err
}

// --- AbsenceRepository ---

// LatestActiveAbsence returns the active absence with the latest start date.
func (db *DB) LatestActiveAbsence(ctx context.Context, userID string) (*domain.AbsenceLog, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.takeFailure(); err != nil {
		return nil, err
	}

	var active []domain.AbsenceLog
	for _, a := range db.absences {
		if a.UserID == userID && a.Status == domain.AbsenceStatusActive {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}
	// Nulls sort first in a descending order, matching Postgres.
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i].AbsenceStartDate, active[j].AbsenceStartDate
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return *a > *b
	})
	ret := copyLog(active[0])
	return &ret, nil
}

// CreateAbsence stores a new absence log and returns it with its ID.
func (db *DB) CreateAbsence(ctx context.Context, l domain.AbsenceLog) (*domain.AbsenceLog, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.takeFailure(); err != nil {
		return nil, err
	}

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	l.CreatedAt = l.CreatedAt.UTC()
	db.absences = append(db.absences, copyLog(l))
	return &l, nil
}

// UpdateAbsenceProgress sets the counters of a user's absence.
func (db *DB) UpdateAbsenceProgress(ctx context.Context, userID, id string, daysAbsent int, estimatedXP float64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.takeFailure(); err != nil {
		return err
	}

	a := db.find(userID, id)
	if a == nil {
		return domain.ErrNotFound
	}
	a.DaysAbsent = &daysAbsent
	a.Estimate = &domain.ActivityEstimate{EstimatedXP: &estimatedXP}
	return nil
}

// EndAbsence marks a user's absence as ended.
func (db *DB) EndAbsence(ctx context.Context, userID, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.takeFailure(); err != nil {
		return err
	}

	a := db.find(userID, id)
	if a == nil {
		return domain.ErrNotFound
	}
	a.Status = domain.AbsenceStatusEnded
	return nil
}

func (db *DB) find(userID, id string) *domain.AbsenceLog {
	for i := range db.absences {
		if db.absences[i].ID == id && db.absences[i].UserID == userID {
			return &db.absences[i]
		}
	}
	return nil
}

// copyLog detaches the optional fields so callers cannot mutate stored rows.
func copyLog(l domain.AbsenceLog) domain.AbsenceLog {
	if l.AbsenceStartDate != nil {
		v := *l.AbsenceStartDate
		l.AbsenceStartDate = &v
	}
	if l.DaysAbsent != nil {
		v := *l.DaysAbsent
		l.DaysAbsent = &v
	}
	if l.Estimate != nil {
		e := domain.ActivityEstimate{}
		if l.Estimate.EstimatedXP != nil {
			v := *l.Estimate.EstimatedXP
			e.EstimatedXP = &v
		}
		l.Estimate = &e
	}
	return l
}

// --- UserRepository ---

// GetByUsername retrieves a user by username.
func (db *DB) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

// GetByID retrieves a user by ID.
func (db *DB) GetByID(ctx context.Context, id string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

// Create creates a new user.
func (db *DB) Create(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return nil, errors.New("user already exists")
		}
	}

	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	db.users = append(db.users, u)
	return u, nil
}

// Count returns the total number of users.
func (db *DB) Count(ctx context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users), nil
}

// --- SessionRepository ---

// SessionRepo implements session persistence.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new session repository.
func (db *DB) NewSessionRepo() *SessionRepo {
	return &SessionRepo{db: db}
}

// Create creates a new session.
func (r *SessionRepo) Create(ctx context.Context, s domain.Session) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	r.db.sessions[s.Token] = &s
	return nil
}

// GetByToken retrieves a session by token.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if s, ok := r.db.sessions[token]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

// Delete deletes a session.
func (r *SessionRepo) Delete(ctx context.Context, token string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, token)
	return nil
}

// DeleteExpired deletes all sessions that expired before now.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for k, v := range r.db.sessions {
		if now.After(v.ExpiresAt) {
			delete(r.db.sessions, k)
			n++
		}
	}
	return n, nil
}
