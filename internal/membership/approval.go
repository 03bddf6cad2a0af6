package membership

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ovaphlow/pitchfork/service-membership/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership/internal/membership/entity"
	userentity "github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/database"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/utilities"
)

type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// Decision is an admin verdict on a user's latest request. Role, when set,
// overrides the requested role on approval.
type Decision struct {
	UserID     string           `json:"user_id" validate:"required"`
	Action     Action           `json:"action" validate:"omitempty,oneof=APPROVE REJECT"`
	AdminNotes *string          `json:"admin_notes" validate:"omitempty,max=2000"`
	Role       *userentity.Role `json:"role"`
}

// Approval is the outcome of an approval. Role is the issued tier; the
// account keeps HEAD if it already had it.
type Approval struct {
	UserID   string          `json:"user_id"`
	MemberID string          `json:"member_id"`
	Role     userentity.Role `json:"role"`
}

// Decide validates d and dispatches to Approve or Reject. A nil Approval
// means the request was rejected.
func (s *Service) Decide(ctx context.Context, d Decision) (*Approval, error) {
	if err := utilities.ValidateStruct(d); err != nil {
		return nil, apperr.Invalid("%s", err.Error())
	}
	if d.Role != nil && !d.Role.Valid() {
		return nil, apperr.Invalid("role %q is not a valid role", *d.Role)
	}
	if d.Action == ActionReject {
		return nil, s.Reject(ctx, d.UserID, d.AdminNotes)
	}
	return s.Approve(ctx, d.UserID, d.AdminNotes, d.Role)
}

// Approve activates the user and issues a member ID for the requested (or
// overriding) role. Everything happens in one transaction, so the counter
// advance is undone if any later step fails.
func (s *Service) Approve(ctx context.Context, userID string, notes *string, override *userentity.Role) (*Approval, error) {
	var out *Approval
	err := s.store.WithTx(ctx, func(st Store) error {
		req, err := st.Requests().Latest(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) || database.IsInvalidInput(err) {
				return apperr.NotFound("Membership request not found")
			}
			return apperr.Internal("Failed to load membership request", err)
		}

		role := req.RequestedRole
		if override != nil {
			role = *override
		}

		now := s.clock.Now()
		memberID, err := s.allocator.Allocate(ctx, st.Sequences(), st.Users(), role, now)
		if err != nil {
			return apperr.Internal("Failed to allocate member ID", err)
		}

		u, err := st.Users().GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) || database.IsInvalidInput(err) {
				return apperr.NotFound("User not found")
			}
			return apperr.Internal("Failed to load user", err)
		}
		final := role
		if u.Role == userentity.RoleHead {
			final = userentity.RoleHead
		}

		n, err := st.Users().Activate(ctx, userID, userentity.Activation{Role: final, MemberID: memberID}, now)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return apperr.Conflict("Member ID %s is already assigned to another user", memberID)
			}
			return apperr.Internal("Failed to activate user", err)
		}
		if n == 0 {
			return apperr.NotFound("User not found")
		}

		if _, err := st.Requests().SetDecision(ctx, req.ID, entity.ApprovalApproved, notes); err != nil {
			return apperr.Internal("Failed to update membership request", err)
		}
		out = &Approval{UserID: userID, MemberID: memberID, Role: role}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("membership approved", "user_id", userID, "member_id", out.MemberID, "role", out.Role)
	return out, nil
}

// Reject marks the user's latest request REJECTED. The account is not touched.
func (s *Service) Reject(ctx context.Context, userID string, notes *string) error {
	err := s.store.WithTx(ctx, func(st Store) error {
		req, err := st.Requests().Latest(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) || database.IsInvalidInput(err) {
				return apperr.NotFound("Membership request not found")
			}
			return apperr.Internal("Failed to load membership request", err)
		}
		n, err := st.Requests().SetDecision(ctx, req.ID, entity.ApprovalRejected, notes)
		if err != nil {
			return apperr.Internal("Failed to update membership request", err)
		}
		if n == 0 {
			return apperr.NotFound("Membership request not found")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Infow("membership rejected", "user_id", userID)
	return nil
}

// ListPending returns all PENDING requests with their applicants.
func (s *Service) ListPending(ctx context.Context) ([]*entity.PendingRequest, error) {
	out, err := s.store.Requests().ListPending(ctx)
	if err != nil {
		return nil, apperr.Internal("Failed to load pending requests", err)
	}
	return out, nil
}
