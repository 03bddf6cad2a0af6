package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-membership/internal/sequence/entity"
)

// Repo provides access to member_id_sequences. It runs on either a pool or
// a transaction.
type Repo struct {
	db sqlx.ExtContext
}

func NewRepo(db sqlx.ExtContext) *Repo { return &Repo{db: db} }

// Next atomically increments and returns the counter of prefix. The first
// call for a prefix seeds the counter from the highest number already
// issued under it, whatever role its holder has now.
func (r *Repo) Next(ctx context.Context, prefix string, now time.Time) (int64, error) {
	const q = `INSERT INTO member_id_sequences (prefix, last_value, updated_at)
		VALUES ($1, COALESCE((
			SELECT MAX(substring(member_id FROM '[0-9]+$')::BIGINT) FROM users
			WHERE member_id ~ ('^' || $1 || '-[0-9]+$')
		), 0) + 1, $2)
		ON CONFLICT (prefix) DO UPDATE
		SET last_value = member_id_sequences.last_value + 1, updated_at = EXCLUDED.updated_at
		RETURNING last_value`
	var n int64
	if err := sqlx.GetContext(ctx, r.db, &n, q, prefix, now); err != nil {
		return 0, err
	}
	return n, nil
}

// List returns every counter ordered by prefix.
func (r *Repo) List(ctx context.Context) ([]*entity.Sequence, error) {
	const q = `SELECT prefix, last_value, updated_at FROM member_id_sequences ORDER BY prefix`
	out := []*entity.Sequence{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q); err != nil {
		return nil, err
	}
	return out, nil
}
