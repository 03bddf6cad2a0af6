package entity

import (
	"time"

	userentity "github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
)

// Sequence is the last member number issued under a member ID prefix.
// Roles sharing a prefix (GENERAL, PENDING and HEAD all use GEN) share one
// counter.
type Sequence struct {
	Prefix    string    `db:"prefix" json:"prefix"`
	LastValue int64     `db:"last_value" json:"last_value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LastMemberID renders the most recently issued member ID, or "" when none was issued.
func (s *Sequence) LastMemberID() string {
	if s.LastValue <= 0 {
		return ""
	}
	return userentity.FormatMemberNumber(s.Prefix, s.LastValue)
}
