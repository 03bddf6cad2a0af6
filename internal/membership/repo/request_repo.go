package repo

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-membership/internal/membership/entity"
)

const requestColumns = `id, user_id, requested_role, application_data, payment_status,
	approval_status, admin_notes, created_at`

// RequestRepo provides data access for membership_requests. It runs on
// either a pool or a transaction.
type RequestRepo struct {
	db sqlx.ExtContext
}

func NewRequestRepo(db sqlx.ExtContext) *RequestRepo { return &RequestRepo{db: db} }

// Create inserts a request row.
func (r *RequestRepo) Create(ctx context.Context, req *entity.Request) error {
	const q = `INSERT INTO membership_requests
		(id, user_id, requested_role, application_data, payment_status, approval_status, admin_notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	data := req.ApplicationData
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	_, err := r.db.ExecContext(ctx, q,
		req.ID, req.UserID, req.RequestedRole, []byte(data), req.PaymentStatus, req.ApprovalStatus, req.AdminNotes, req.CreatedAt)
	return err
}

// Latest returns the most recent request of a user or sql.ErrNoRows.
func (r *RequestRepo) Latest(ctx context.Context, userID string) (*entity.Request, error) {
	q := `SELECT ` + requestColumns + ` FROM membership_requests
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`
	var req entity.Request
	if err := sqlx.GetContext(ctx, r.db, &req, q, userID); err != nil {
		return nil, err
	}
	return &req, nil
}

// SetDecision writes the approval status and notes of one request. Returns
// rows affected.
func (r *RequestRepo) SetDecision(ctx context.Context, id string, status entity.ApprovalStatus, notes *string) (int64, error) {
	const q = `UPDATE membership_requests SET approval_status = $2, admin_notes = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, status, notes)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListPending returns PENDING requests with their applicants, oldest first.
func (r *RequestRepo) ListPending(ctx context.Context) ([]*entity.PendingRequest, error) {
	const q = `SELECT mr.id, mr.user_id, mr.requested_role, mr.application_data, mr.payment_status,
			mr.approval_status, mr.admin_notes, mr.created_at,
			u.id AS "user.id", u.identifier AS "user.identifier", u.full_name AS "user.full_name",
			u.phone AS "user.phone", u.role AS "user.role", u.status AS "user.status"
		FROM membership_requests mr
		JOIN users u ON u.id = mr.user_id
		WHERE mr.approval_status = 'PENDING'
		ORDER BY mr.created_at ASC, mr.id ASC`
	out := []*entity.PendingRequest{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q); err != nil {
		return nil, err
	}
	return out, nil
}
