package membership

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/ovaphlow/pitchfork/service-membership/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership/internal/membership/entity"
	userentity "github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/database"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/utilities"
)

// NewMember is the input of CreateMember.
type NewMember struct {
	Phone             string          `json:"phone" validate:"required,max=32"`
	FullName          string          `json:"full_name" validate:"required,max=200"`
	Role              userentity.Role `json:"role" validate:"required,oneof=PERMANENT NORMAL ASSOCIATED"`
	ZonalCommittee    *string         `json:"zonal_committee" validate:"omitempty,max=200"`
	RegionalCommittee *string         `json:"regional_committee" validate:"omitempty,max=200"`
}

// Provisioned is the outcome of CreateMember.
type Provisioned struct {
	UserID   string          `json:"user_id"`
	MemberID string          `json:"member_id"`
	Role     userentity.Role `json:"role"`
	Created  bool            `json:"created"`
}

// CreateMember makes the account for phone an active member of the given
// role, creating an INACTIVE shell account with the default PIN when none
// exists. An APPROVED/PAID request is written for the audit trail.
func (s *Service) CreateMember(ctx context.Context, in NewMember) (*Provisioned, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	if err := utilities.ValidateStruct(in); err != nil {
		return nil, apperr.Invalid("%s", err.Error())
	}
	identifier := utilities.NormalizePhone(in.Phone)
	if identifier == "" {
		return nil, apperr.Invalid("phone must contain digits")
	}

	var out *Provisioned
	err := s.store.WithTx(ctx, func(st Store) error {
		now := s.clock.Now()
		u, err := st.Users().GetByIdentifier(ctx, identifier)
		created := false
		switch {
		case err == nil:
		case errors.Is(err, sql.ErrNoRows):
			u, err = s.shellAccount(ctx, st, identifier, in.FullName)
			if err != nil {
				return err
			}
			created = true
		default:
			return apperr.Internal("Failed to look up user", err)
		}

		memberID, err := s.allocator.Allocate(ctx, st.Sequences(), st.Users(), in.Role, now)
		if err != nil {
			return apperr.Internal("Failed to allocate member ID", err)
		}

		final := in.Role
		if u.Role == userentity.RoleHead {
			final = userentity.RoleHead
		}
		n, err := st.Users().Activate(ctx, u.ID, userentity.Activation{
			Role:              final,
			MemberID:          memberID,
			FullName:          &in.FullName,
			ZonalCommittee:    in.ZonalCommittee,
			RegionalCommittee: in.RegionalCommittee,
		}, now)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return apperr.Conflict("Member ID %s is already assigned to another user", memberID)
			}
			return apperr.Internal("Failed to activate member", err)
		}
		if n == 0 {
			return apperr.NotFound("User not found")
		}

		notes := entity.ManualNotes
		if err := st.Requests().Create(ctx, &entity.Request{
			ID:              utilities.NewSnowflakeID(),
			UserID:          u.ID,
			RequestedRole:   in.Role,
			ApplicationData: []byte("{}"),
			PaymentStatus:   entity.PaymentPaid,
			ApprovalStatus:  entity.ApprovalApproved,
			AdminNotes:      &notes,
			CreatedAt:       now,
		}); err != nil {
			return apperr.Internal("Failed to record membership request", err)
		}

		out = &Provisioned{UserID: u.ID, MemberID: memberID, Role: in.Role, Created: created}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("member provisioned", "user_id", out.UserID, "member_id", out.MemberID, "created", out.Created)
	return out, nil
}

func (s *Service) shellAccount(ctx context.Context, st Store, identifier, fullName string) (*userentity.User, error) {
	hash, err := s.hasher.Hash(s.defaultPIN)
	if err != nil {
		return nil, apperr.Internal("Failed to hash PIN", err)
	}
	now := s.clock.Now()
	u := &userentity.User{
		ID:         utilities.NewUserID(),
		Identifier: identifier,
		Phone:      &identifier,
		FullName:   &fullName,
		PINHash:    &hash,
		Role:       userentity.RolePending,
		Status:     userentity.StatusInactive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := st.Users().Create(ctx, u); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict("User with this phone number already exists")
		}
		return nil, apperr.Internal("Failed to create user", err)
	}
	return u, nil
}
