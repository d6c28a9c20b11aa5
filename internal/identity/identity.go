// Package identity registers caregivers and patients and verifies their
// passwords. Caregivers and patients are separate namespaces.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/time/rate"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

const (
	saltLen    = 16
	keyLen     = 16
	iterations = 10000
)

var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many login attempts")
)

type Service struct {
	store   reservation.Identities
	limiter *attemptLimiter
	log     *slog.Logger
}

// NewService throttles Verify per (role, username) to rps attempts per
// second with the given burst.
func NewService(store reservation.Identities, rps float64, burst int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		limiter: newAttemptLimiter(rate.Limit(rps), burst),
		log:     log,
	}
}

func (s *Service) Exists(ctx context.Context, role reservation.Role, username string) (bool, error) {
	ok, err := s.store.Exists(ctx, username, role)
	if err != nil {
		return false, reservation.StorageFailure("check username", err)
	}
	return ok, nil
}

// Register stores a new identity with a freshly salted password hash.
func (s *Service) Register(ctx context.Context, role reservation.Role, username, password string) error {
	if !role.Valid() {
		return fmt.Errorf("register: unknown role %q", role)
	}
	if strings.TrimSpace(username) == "" || password == "" {
		return errors.New("register: username and password are required")
	}

	taken, err := s.Exists(ctx, role, username)
	if err != nil {
		return err
	}
	if taken {
		return ErrUsernameTaken
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	err = s.store.Insert(ctx, reservation.Credentials{
		Username:     username,
		Role:         role,
		PasswordSalt: salt,
		PasswordHash: hashPassword(password, salt),
	})
	if err != nil {
		if errors.Is(err, reservation.ErrConflict) {
			return ErrUsernameTaken
		}
		return reservation.StorageFailure("insert identity", err)
	}

	s.log.Info("identity registered", slog.String("role", string(role)), slog.String("username", username))
	return nil
}

// Verify checks password against the stored hash. Unknown usernames and
// wrong passwords both return ErrInvalidCredentials.
func (s *Service) Verify(ctx context.Context, role reservation.Role, username, password string) (reservation.Actor, error) {
	if !s.limiter.allow(string(role) + ":" + username) {
		return reservation.Actor{}, ErrTooManyAttempts
	}

	creds, err := s.store.FetchCredentials(ctx, username, role)
	if err != nil {
		if errors.Is(err, reservation.ErrNotFound) {
			return reservation.Actor{}, ErrInvalidCredentials
		}
		return reservation.Actor{}, reservation.StorageFailure("fetch credentials", err)
	}

	got := hashPassword(password, creds.PasswordSalt)
	if subtle.ConstantTimeCompare(got, creds.PasswordHash) != 1 {
		s.log.Info("login rejected", slog.String("role", string(role)), slog.String("username", username))
		return reservation.Actor{}, ErrInvalidCredentials
	}

	return reservation.Actor{Role: role, Username: username}, nil
}

func hashPassword(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha1.New)
}

type attempt struct {
	lim  *rate.Limiter
	seen time.Time
}

type attemptLimiter struct {
	mu      sync.Mutex
	clients map[string]*attempt
	r       rate.Limit
	burst   int
	now     func() time.Time
}

func newAttemptLimiter(r rate.Limit, burst int) *attemptLimiter {
	return &attemptLimiter{
		clients: make(map[string]*attempt),
		r:       r,
		burst:   burst,
		now:     time.Now,
	}
}

func (l *attemptLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	// drop limiters idle long enough to have refilled
	for k, a := range l.clients {
		if now.Sub(a.seen) > 3*time.Minute {
			delete(l.clients, k)
		}
	}

	a, ok := l.clients[key]
	if !ok {
		a = &attempt{lim: rate.NewLimiter(l.r, l.burst)}
		l.clients[key] = a
	}
	a.seen = now
	return a.lim.AllowN(now, 1)
}
