package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-membership/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/database"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/utilities"
)

const (
	DefaultMaxFailed    = 5
	DefaultLockDuration = 30 * time.Minute
)

// PINHasher hashes and checks PINs.
type PINHasher interface {
	Hash(pin string) (string, error)
	Verify(hash, pin string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pin string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(u *entity.User) (string, time.Time, error)
}

// Repository is the slice of the user store the service needs.
type Repository interface {
	Create(ctx context.Context, u *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*entity.User, error)
	RecordFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (int, error)
	ResetLoginState(ctx context.Context, id string, now time.Time) (int64, error)
	UpdatePINHash(ctx context.Context, id, hash string, now time.Time) (int64, error)
	ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

// Service orchestrates registration, PIN authentication and lockout.
type Service struct {
	repo   Repository
	hasher PINHasher
	tokens TokenIssuer
	clock  clockwork.Clock
	logger *zap.SugaredLogger
	// configuration knobs
	MaxFailed    int
	LockDuration time.Duration
}

func NewService(r Repository, hasher PINHasher, tokens TokenIssuer, clock clockwork.Clock, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		repo:         r,
		hasher:       hasher,
		tokens:       tokens,
		clock:        clock,
		logger:       logger,
		MaxFailed:    DefaultMaxFailed,
		LockDuration: DefaultLockDuration,
	}
}

// Session is returned by register, login and verify.
type Session struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresAt   time.Time     `json:"expires_at"`
	UserID      string        `json:"user_id"`
	Identifier  string        `json:"identifier"`
	Role        entity.Role   `json:"role"`
	Status      entity.Status `json:"status"`
}

// Registration is the input of Register.
type Registration struct {
	Phone    string `json:"phone" validate:"required,max=32"`
	PIN      string `json:"pin" validate:"required,pin"`
	FullName string `json:"full_name" validate:"required,max=200"`
}

// Credentials is the input of Login and Verify.
type Credentials struct {
	Identifier string `json:"identifier" validate:"required"`
	PIN        string `json:"pin" validate:"required,pin"`
}

// Register creates a GENERAL/PENDING account and opens a session for it.
func (s *Service) Register(ctx context.Context, in Registration) (*Session, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	if err := utilities.ValidateStruct(in); err != nil {
		return nil, apperr.Invalid("%s", err.Error())
	}
	identifier := utilities.NormalizePhone(in.Phone)
	if identifier == "" {
		return nil, apperr.Invalid("phone must contain digits")
	}

	_, err := s.repo.GetByIdentifier(ctx, identifier)
	switch {
	case err == nil:
		return nil, apperr.Conflict("User with this phone number already exists")
	case !errors.Is(err, sql.ErrNoRows):
		return nil, apperr.Internal("Failed to look up user", err)
	}

	hash, err := s.hasher.Hash(in.PIN)
	if err != nil {
		return nil, apperr.Internal("Failed to hash PIN", err)
	}
	now := s.clock.Now()
	u := &entity.User{
		ID:         utilities.NewUserID(),
		Identifier: identifier,
		Phone:      &identifier,
		FullName:   &in.FullName,
		PINHash:    &hash,
		Role:       entity.RoleGeneral,
		Status:     entity.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict("User with this phone number already exists")
		}
		return nil, apperr.Internal("Failed to create user", err)
	}
	s.logger.Infow("user registered", "user_id", u.ID)
	return s.session(u)
}

// Login authenticates by phone and PIN.
func (s *Service) Login(ctx context.Context, in Credentials) (*Session, error) {
	u, err := s.authenticate(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.session(u)
}

// Verify authenticates by identifier and PIN. It shares the lockout rules
// of Login.
func (s *Service) Verify(ctx context.Context, in Credentials) (*Session, error) {
	return s.Login(ctx, in)
}

// authenticate applies the lockout state machine:
// an expired lock is cleared first, a live lock refuses the attempt, a
// wrong PIN counts a failure and locks at MaxFailed, and a correct PIN
// resets the counter.
func (s *Service) authenticate(ctx context.Context, in Credentials) (*entity.User, error) {
	if err := utilities.ValidateStruct(in); err != nil {
		return nil, apperr.Invalid("%s", err.Error())
	}
	identifier := utilities.NormalizePhone(in.Identifier)
	if identifier == "" {
		return nil, apperr.Unauthenticated("Invalid credentials")
	}

	u, err := s.repo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Unauthenticated("Invalid credentials")
		}
		return nil, apperr.Internal("Failed to look up user", err)
	}

	now := s.clock.Now()
	if u.LockedUntil != nil {
		if u.IsLocked(now) {
			return nil, apperr.Locked("Account is locked until %s", u.LockedUntil.UTC().Format(time.RFC3339))
		}
		if _, err := s.repo.ResetLoginState(ctx, u.ID, now); err != nil {
			return nil, apperr.Internal("Failed to clear expired lock", err)
		}
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	}

	if !u.HasPIN() {
		return nil, apperr.Invalid("PIN not set for this account")
	}

	if !s.hasher.Verify(*u.PINHash, in.PIN) {
		attempts, err := s.repo.RecordFailedLogin(ctx, u.ID, s.MaxFailed, now.Add(s.LockDuration), now)
		if err != nil {
			return nil, apperr.Internal("Failed to record login attempt", err)
		}
		if attempts >= s.MaxFailed {
			s.logger.Warnw("account locked", "user_id", u.ID, "attempts", attempts)
			return nil, apperr.Locked("Account locked due to too many failed attempts. Try again after %d minutes.", int(s.LockDuration.Minutes()))
		}
		return nil, apperr.Unauthenticated("Invalid PIN. %d attempts remaining.", s.MaxFailed-attempts)
	}

	if u.FailedLoginAttempts != 0 {
		if _, err := s.repo.ResetLoginState(ctx, u.ID, now); err != nil {
			return nil, apperr.Internal("Failed to reset login attempts", err)
		}
		u.FailedLoginAttempts = 0
	}
	return u, nil
}

// SetPIN replaces the PIN of the given account.
func (s *Service) SetPIN(ctx context.Context, userID, pin string) error {
	if !utilities.IsPIN(pin) {
		return apperr.Invalid("PIN must be exactly 4 digits")
	}
	hash, err := s.hasher.Hash(pin)
	if err != nil {
		return apperr.Internal("Failed to hash PIN", err)
	}
	n, err := s.repo.UpdatePINHash(ctx, userID, hash, s.clock.Now())
	if err != nil {
		return apperr.Internal("Failed to set PIN", err)
	}
	if n == 0 {
		return apperr.NotFound("User not found")
	}
	return nil
}

// Unlock clears the failure counter and lock of an account.
func (s *Service) Unlock(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.Invalid("user_id is required")
	}
	n, err := s.repo.ResetLoginState(ctx, userID, s.clock.Now())
	if err != nil {
		if database.IsInvalidInput(err) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal("Failed to unlock account", err)
	}
	if n == 0 {
		return apperr.NotFound("User not found")
	}
	s.logger.Infow("account unlocked", "user_id", userID)
	return nil
}

// Me returns the stored account of the caller.
func (s *Service) Me(ctx context.Context, userID string) (*entity.User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || database.IsInvalidInput(err) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal("Failed to load user", err)
	}
	return u, nil
}

// SweepExpiredLocks resets every account whose lock has ended.
func (s *Service) SweepExpiredLocks(ctx context.Context) (int64, error) {
	n, err := s.repo.ClearExpiredLocks(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("clear expired locks: %w", err)
	}
	return n, nil
}

func (s *Service) session(u *entity.User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u)
	if err != nil {
		return nil, apperr.Internal("Failed to issue token", err)
	}
	return &Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   exp,
		UserID:      u.ID,
		Identifier:  u.Identifier,
		Role:        u.Role,
		Status:      u.Status,
	}, nil
}
