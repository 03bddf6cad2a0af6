package membership

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership/internal/membership/entity"
	"github.com/ovaphlow/pitchfork/service-membership/internal/sequence"
	userentity "github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/utilities"
)

// PINHasher hashes the initial PIN of provisioned accounts.
type PINHasher interface {
	Hash(pin string) (string, error)
}

// Service implements application submission, admin review and manual
// member provisioning.
type Service struct {
	store      Store
	allocator  *sequence.Allocator
	hasher     PINHasher
	clock      clockwork.Clock
	logger     *zap.SugaredLogger
	defaultPIN string
}

// Options tunes a Service. Zero values pick the defaults.
type Options struct {
	Allocator  *sequence.Allocator
	Clock      clockwork.Clock
	DefaultPIN string
}

func NewService(store Store, hasher PINHasher, logger *zap.SugaredLogger, opts Options) *Service {
	if opts.Allocator == nil {
		opts.Allocator = sequence.NewAllocator(sequence.ModeSequence)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.DefaultPIN == "" {
		opts.DefaultPIN = "0000"
	}
	return &Service{
		store:      store,
		allocator:  opts.Allocator,
		hasher:     hasher,
		clock:      opts.Clock,
		logger:     logger,
		defaultPIN: opts.DefaultPIN,
	}
}

// Application is the input of Submit.
type Application struct {
	RequestedRole userentity.Role `json:"requested_role" validate:"required,oneof=PERMANENT NORMAL ASSOCIATED"`
	BioData       entity.BioData  `json:"bio_data"`
}

// Submit copies the bio-data onto the user's profile and records a PENDING
// request, both in one transaction. Returns the request ID.
func (s *Service) Submit(ctx context.Context, userID string, app Application) (string, error) {
	if err := utilities.ValidateStruct(app); err != nil {
		return "", apperr.Invalid("%s", err.Error())
	}
	if err := validateBirth(app.BioData.Profile); err != nil {
		return "", err
	}
	snapshot, err := json.Marshal(app.BioData)
	if err != nil {
		return "", apperr.Internal("Failed to encode application", err)
	}

	now := s.clock.Now()
	req := &entity.Request{
		ID:              utilities.NewSnowflakeID(),
		UserID:          userID,
		RequestedRole:   app.RequestedRole,
		ApplicationData: snapshot,
		PaymentStatus:   entity.PaymentExempt,
		ApprovalStatus:  entity.ApprovalPending,
		CreatedAt:       now,
	}
	err = s.store.WithTx(ctx, func(st Store) error {
		n, err := st.Users().UpdateProfile(ctx, userID, app.BioData.Profile.Columns(), now)
		if err != nil {
			return apperr.Internal("Failed to update user profile", err)
		}
		if n == 0 {
			return apperr.Internal("Failed to update user profile", errors.New("user row not found"))
		}
		if err := st.Requests().Create(ctx, req); err != nil {
			return apperr.Internal("Failed to create membership request", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Infow("membership application submitted", "user_id", userID, "request_id", req.ID, "role", app.RequestedRole)
	return req.ID, nil
}

// Status returns the user's most recent request, or nil when there is none.
func (s *Service) Status(ctx context.Context, userID string) (*entity.Request, error) {
	req, err := s.store.Requests().Latest(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Internal("Failed to load membership status", err)
	}
	return req, nil
}

// Card returns the member card of an active account.
func (s *Service) Card(u *userentity.User) (*entity.Card, error) {
	if !u.IsActive() || u.MemberID == nil {
		return nil, apperr.Forbidden("Active membership required")
	}
	c := entity.CardFor(u)
	return &c, nil
}

func validateBirth(p userentity.Profile) error {
	if p.DOB != nil {
		if _, err := time.Parse(time.DateOnly, *p.DOB); err != nil {
			return apperr.Invalid("dob must be a date in YYYY-MM-DD format")
		}
	}
	if p.TOB != nil {
		if _, err := time.Parse("15:04", *p.TOB); err != nil {
			if _, err := time.Parse(time.TimeOnly, *p.TOB); err != nil {
				return apperr.Invalid("tob must be a time in HH:MM or HH:MM:SS format")
			}
		}
	}
	return nil
}
