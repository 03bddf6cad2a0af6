package sequence

import (
	"context"
	"fmt"
	"time"

	userentity "github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
)

// Mode selects how member numbers are derived.
type Mode string

const (
	// ModeSequence draws from the per-prefix counter table. Numbers are
	// never reused, even after a member leaves the role.
	ModeSequence Mode = "sequence"
	// ModeCount uses the number of current role holders plus one. Two
	// concurrent approvals can compute the same number; the unique member_id
	// index turns the loser into a conflict.
	ModeCount Mode = "count"
)

// ParseMode accepts "sequence" or "count"; empty means sequence.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSequence:
		return ModeSequence, nil
	case ModeCount:
		return ModeCount, nil
	}
	return "", fmt.Errorf("unknown member id allocator %q", s)
}

// Counter hands out the next value of a member ID prefix's counter.
type Counter interface {
	Next(ctx context.Context, prefix string, now time.Time) (int64, error)
}

// RoleCounter counts current holders of a role.
type RoleCounter interface {
	CountByRole(ctx context.Context, role userentity.Role) (int64, error)
}

// Allocator issues member IDs of the form PREFIX-NNN.
type Allocator struct {
	mode Mode
}

func NewAllocator(mode Mode) *Allocator {
	if mode == "" {
		mode = ModeSequence
	}
	return &Allocator{mode: mode}
}

func (a *Allocator) Mode() Mode { return a.mode }

// Allocate returns the next member ID for role. Both stores must belong to
// the caller's transaction.
func (a *Allocator) Allocate(ctx context.Context, seq Counter, users RoleCounter, role userentity.Role, now time.Time) (string, error) {
	var n int64
	switch a.mode {
	case ModeCount:
		c, err := users.CountByRole(ctx, role)
		if err != nil {
			return "", fmt.Errorf("count %s members: %w", role, err)
		}
		n = c + 1
	default:
		prefix := role.MemberIDPrefix()
		v, err := seq.Next(ctx, prefix, now)
		if err != nil {
			return "", fmt.Errorf("next %s sequence: %w", prefix, err)
		}
		n = v
	}
	return userentity.FormatMemberID(role, n), nil
}
