package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
)

const userColumns = `id, identifier, phone, full_name, pin_hash, role, status, member_id,
	failed_login_attempts, locked_until, zonal_committee, regional_committee, joined_at,
	created_at, updated_at,
	father_guardian_name, age, dob, tob, gotram, sub_sect, occupation, annual_income,
	star_pada, address, cell_no, email, photo_url, requirement, particulars`

// profileColumns whitelists the columns UpdateProfile may write.
var profileColumns = map[string]struct{}{
	"father_guardian_name": {}, "age": {}, "dob": {}, "tob": {}, "gotram": {},
	"sub_sect": {}, "occupation": {}, "annual_income": {}, "star_pada": {},
	"address": {}, "cell_no": {}, "email": {}, "photo_url": {},
	"requirement": {}, "particulars": {}, "full_name": {},
}

// UserRepo provides data access for the users table using sqlx. It runs on
// either a pool or a transaction.
type UserRepo struct {
	db sqlx.ExtContext
}

func NewUserRepo(db sqlx.ExtContext) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row. A duplicate identifier surfaces as a
// postgres unique violation.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (id, identifier, phone, full_name, pin_hash, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, q,
		u.ID, u.Identifier, u.Phone, u.FullName, u.PINHash, u.Role, u.Status, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetByID returns the user or sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	var u entity.User
	if err := sqlx.GetContext(ctx, r.db, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByIdentifier returns the user with the normalized phone identifier or sql.ErrNoRows.
func (r *UserRepo) GetByIdentifier(ctx context.Context, identifier string) (*entity.User, error) {
	var u entity.User
	if err := sqlx.GetContext(ctx, r.db, &u, `SELECT `+userColumns+` FROM users WHERE identifier = $1`, identifier); err != nil {
		return nil, err
	}
	return &u, nil
}

// RecordFailedLogin increments the failure counter atomically and sets
// locked_until when the new count reaches threshold. Returns the new count.
func (r *UserRepo) RecordFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (int, error) {
	const q = `UPDATE users SET
		failed_login_attempts = failed_login_attempts + 1,
		locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
		updated_at = $4
		WHERE id = $1 RETURNING failed_login_attempts`
	var attempts int
	if err := sqlx.GetContext(ctx, r.db, &attempts, q, id, threshold, lockUntil, now); err != nil {
		return 0, err
	}
	return attempts, nil
}

// ResetLoginState zeroes the failure counter and clears any lock. Returns rows affected.
func (r *UserRepo) ResetLoginState(ctx context.Context, id string, now time.Time) (int64, error) {
	const q = `UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = $2 WHERE id = $1`
	return r.exec(ctx, q, id, now)
}

// ClearExpiredLocks resets every account whose lock ended at or before now.
func (r *UserRepo) ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = $1
		WHERE locked_until IS NOT NULL AND locked_until <= $1`
	return r.exec(ctx, q, now)
}

// UpdatePINHash stores a new PIN hash. Returns rows affected.
func (r *UserRepo) UpdatePINHash(ctx context.Context, id, hash string, now time.Time) (int64, error) {
	const q = `UPDATE users SET pin_hash = $2, updated_at = $3 WHERE id = $1`
	return r.exec(ctx, q, id, hash, now)
}

// UpdateProfile writes the given profile columns and bumps updated_at.
// Unknown columns are rejected. An empty map only touches updated_at.
func (r *UserRepo) UpdateProfile(ctx context.Context, id string, fields map[string]any, now time.Time) (int64, error) {
	cols := make([]string, 0, len(fields))
	for c := range fields {
		if _, ok := profileColumns[c]; !ok {
			return 0, fmt.Errorf("update profile: unknown column %q", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	args = append(args, id)
	for _, c := range cols {
		args = append(args, fields[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	args = append(args, now)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	q := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	return r.exec(ctx, q, args...)
}

// Activate promotes the user to an active member with the given role and
// member ID. joined_at is kept if already set.
func (r *UserRepo) Activate(ctx context.Context, id string, a entity.Activation, now time.Time) (int64, error) {
	const q = `UPDATE users SET
		role = $2,
		status = 'ACTIVE',
		member_id = $3,
		full_name = COALESCE($4, full_name),
		zonal_committee = COALESCE($5, zonal_committee),
		regional_committee = COALESCE($6, regional_committee),
		joined_at = COALESCE(joined_at, $7),
		updated_at = $7
		WHERE id = $1`
	return r.exec(ctx, q, id, a.Role, a.MemberID, a.FullName, a.ZonalCommittee, a.RegionalCommittee, now)
}

// CountByRole returns how many users currently hold role.
func (r *UserRepo) CountByRole(ctx context.Context, role entity.Role) (int64, error) {
	var n int64
	if err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM users WHERE role = $1`, role); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *UserRepo) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
