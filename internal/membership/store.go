package membership

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-membership/internal/membership/entity"
	requestrepo "github.com/ovaphlow/pitchfork/service-membership/internal/membership/repo"
	sequencerepo "github.com/ovaphlow/pitchfork/service-membership/internal/sequence/repo"
	userentity "github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-membership/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/database"
)

// UserStore is the slice of the user repository the workflow needs.
type UserStore interface {
	Create(ctx context.Context, u *userentity.User) error
	GetByID(ctx context.Context, id string) (*userentity.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*userentity.User, error)
	UpdateProfile(ctx context.Context, id string, fields map[string]any, now time.Time) (int64, error)
	Activate(ctx context.Context, id string, a userentity.Activation, now time.Time) (int64, error)
	CountByRole(ctx context.Context, role userentity.Role) (int64, error)
}

// RequestStore is the slice of the request repository the workflow needs.
type RequestStore interface {
	Create(ctx context.Context, req *entity.Request) error
	Latest(ctx context.Context, userID string) (*entity.Request, error)
	SetDecision(ctx context.Context, id string, status entity.ApprovalStatus, notes *string) (int64, error)
	ListPending(ctx context.Context) ([]*entity.PendingRequest, error)
}

// SequenceStore hands out member number counters keyed by ID prefix.
type SequenceStore interface {
	Next(ctx context.Context, prefix string, now time.Time) (int64, error)
}

// Store groups the repositories used by the membership workflow. WithTx
// runs fn against a Store whose repositories share one transaction.
type Store interface {
	Users() UserStore
	Requests() RequestStore
	Sequences() SequenceStore
	WithTx(ctx context.Context, fn func(Store) error) error
}

type pgStore struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

// NewStore returns a postgres backed Store.
func NewStore(db *sqlx.DB) Store {
	return &pgStore{db: db, ext: db}
}

func (s *pgStore) Users() UserStore         { return userrepo.NewUserRepo(s.ext) }
func (s *pgStore) Requests() RequestStore   { return requestrepo.NewRequestRepo(s.ext) }
func (s *pgStore) Sequences() SequenceStore { return sequencerepo.NewRepo(s.ext) }

// WithTx joins an enclosing transaction when there is one.
func (s *pgStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.ext.(*sqlx.Tx); ok {
		return fn(s)
	}
	return database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(&pgStore{db: s.db, ext: tx})
	})
}
