package entity

import (
	"fmt"
	"time"
)

// Role is the membership tier of an account. HEAD is the administrator tier.
type Role string

const (
	RolePending    Role = "PENDING"
	RoleGeneral    Role = "GENERAL"
	RoleAssociated Role = "ASSOCIATED"
	RoleNormal     Role = "NORMAL"
	RolePermanent  Role = "PERMANENT"
	RoleHead       Role = "HEAD"
)

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RolePending, RoleGeneral, RoleAssociated, RoleNormal, RolePermanent, RoleHead:
		return true
	}
	return false
}

// Membership reports whether r is a tier a member can apply for or be
// provisioned into.
func (r Role) Membership() bool {
	return r == RolePermanent || r == RoleNormal || r == RoleAssociated
}

// MemberIDPrefix is the three letter prefix used in member IDs of role r.
func (r Role) MemberIDPrefix() string {
	switch r {
	case RolePermanent:
		return "PID"
	case RoleNormal:
		return "NID"
	case RoleAssociated:
		return "AID"
	default:
		return "GEN"
	}
}

// FormatMemberID renders sequence number n for role r, zero padded to at
// least three digits: NID-001, NID-1000.
func FormatMemberID(r Role, n int64) string {
	return FormatMemberNumber(r.MemberIDPrefix(), n)
}

// FormatMemberNumber renders sequence number n under prefix.
func FormatMemberNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

// Status is the account lifecycle state.
type Status string

const (
	StatusInactive Status = "INACTIVE"
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
)

// Profile is the bio-data stored on the user row. Every field is optional.
type Profile struct {
	FatherGuardianName *string  `db:"father_guardian_name" json:"father_guardian_name,omitempty" validate:"omitempty,max=200"`
	Age                *Age     `db:"age" json:"age,omitempty" validate:"omitempty,min=0,max=150"`
	DOB                *string  `db:"dob" json:"dob,omitempty"`
	TOB                *string  `db:"tob" json:"tob,omitempty"`
	Gotram             *string  `db:"gotram" json:"gotram,omitempty" validate:"omitempty,max=100"`
	SubSect            *string  `db:"sub_sect" json:"sub_sect,omitempty" validate:"omitempty,max=100"`
	Occupation         *string  `db:"occupation" json:"occupation,omitempty" validate:"omitempty,max=200"`
	AnnualIncome       *Decimal `db:"annual_income" json:"annual_income,omitempty" validate:"omitempty,numeric"`
	StarPada           *string  `db:"star_pada" json:"star_pada,omitempty" validate:"omitempty,max=100"`
	Address            *string  `db:"address" json:"address,omitempty" validate:"omitempty,max=1000"`
	CellNo             *string  `db:"cell_no" json:"cell_no,omitempty" validate:"omitempty,max=20"`
	Email              *string  `db:"email" json:"email,omitempty" validate:"omitempty,email"`
	PhotoURL           *string  `db:"photo_url" json:"photo_url,omitempty" validate:"omitempty,max=2048"`
	Requirement        *string  `db:"requirement" json:"requirement,omitempty" validate:"omitempty,max=2000"`
	Particulars        *string  `db:"particulars" json:"particulars,omitempty" validate:"omitempty,max=2000"`
}

// Columns returns the set fields keyed by column name.
func (p Profile) Columns() map[string]any {
	out := map[string]any{}
	put := func(col string, v *string) {
		if v != nil {
			out[col] = *v
		}
	}
	put("father_guardian_name", p.FatherGuardianName)
	if p.Age != nil {
		out["age"] = int(*p.Age)
	}
	put("dob", p.DOB)
	put("tob", p.TOB)
	put("gotram", p.Gotram)
	put("sub_sect", p.SubSect)
	put("occupation", p.Occupation)
	if p.AnnualIncome != nil && *p.AnnualIncome != "" {
		out["annual_income"] = string(*p.AnnualIncome)
	}
	put("star_pada", p.StarPada)
	put("address", p.Address)
	put("cell_no", p.CellNo)
	put("email", p.Email)
	put("photo_url", p.PhotoURL)
	put("requirement", p.Requirement)
	put("particulars", p.Particulars)
	return out
}

// User is a row of the users table. Identifier is the digits-only phone
// number and is unique. MemberID is set once, on approval or provisioning.
type User struct {
	ID                  string     `db:"id" json:"id"`
	Identifier          string     `db:"identifier" json:"identifier"`
	Phone               *string    `db:"phone" json:"phone,omitempty"`
	FullName            *string    `db:"full_name" json:"full_name,omitempty"`
	PINHash             *string    `db:"pin_hash" json:"-"`
	Role                Role       `db:"role" json:"role"`
	Status              Status     `db:"status" json:"status"`
	MemberID            *string    `db:"member_id" json:"member_id,omitempty"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"-"`
	LockedUntil         *time.Time `db:"locked_until" json:"-"`
	ZonalCommittee      *string    `db:"zonal_committee" json:"zonal_committee,omitempty"`
	RegionalCommittee   *string    `db:"regional_committee" json:"regional_committee,omitempty"`
	JoinedAt            *time.Time `db:"joined_at" json:"joined_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
	Profile
}

func (u *User) IsAdmin() bool  { return u.Role == RoleHead }
func (u *User) IsActive() bool { return u.Status == StatusActive }

// IsLocked reports whether a lockout is still in force at now. A lock ends
// exactly at LockedUntil.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// HasPIN reports whether a PIN hash is stored.
func (u *User) HasPIN() bool {
	return u.PINHash != nil && *u.PINHash != ""
}

// Activation is the set of fields written when an account becomes an active
// member. Nil committee or name fields leave the stored value unchanged.
type Activation struct {
	Role              Role
	MemberID          string
	FullName          *string
	ZonalCommittee    *string
	RegionalCommittee *string
}
