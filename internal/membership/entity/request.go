package entity

import (
	"encoding/json"
	"time"

	userentity "github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

type PaymentStatus string

const (
	PaymentExempt PaymentStatus = "EXEMPT"
	PaymentPaid   PaymentStatus = "PAID"
)

// ManualNotes marks audit requests written by admin provisioning.
const ManualNotes = "Manually added by Admin"

// BioData is the applicant supplied profile. PaymentProofURL is kept only
// in the request snapshot, never on the user row.
type BioData struct {
	userentity.Profile
	PaymentProofURL *string `json:"payment_proof_url,omitempty" validate:"omitempty,max=2048"`
}

// Request is a row of membership_requests. ApplicationData is the JSON
// snapshot of the submitted bio-data.
type Request struct {
	ID              string          `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"user_id"`
	RequestedRole   userentity.Role `db:"requested_role" json:"requested_role"`
	ApplicationData json.RawMessage `db:"application_data" json:"application_data"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"payment_status"`
	ApprovalStatus  ApprovalStatus  `db:"approval_status" json:"approval_status"`
	AdminNotes      *string         `db:"admin_notes" json:"admin_notes"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Applicant is the user summary attached to a pending request.
type Applicant struct {
	ID         string            `db:"id" json:"id"`
	Identifier string            `db:"identifier" json:"identifier"`
	FullName   *string           `db:"full_name" json:"full_name"`
	Phone      *string           `db:"phone" json:"phone"`
	Role       userentity.Role   `db:"role" json:"role"`
	Status     userentity.Status `db:"status" json:"status"`
}

// PendingRequest is a PENDING request joined with its applicant.
type PendingRequest struct {
	Request
	Applicant Applicant `db:"user" json:"user"`
}

// Card is the member card projection of an active account.
type Card struct {
	MemberID          string            `json:"member_id"`
	FullName          *string           `json:"full_name"`
	Role              userentity.Role   `json:"role"`
	Status            userentity.Status `json:"status"`
	Phone             *string           `json:"phone"`
	PhotoURL          *string           `json:"photo_url"`
	ZonalCommittee    *string           `json:"zonal_committee"`
	RegionalCommittee *string           `json:"regional_committee"`
	JoinedAt          *time.Time        `json:"joined_at"`
}

// CardFor builds the card of u.
func CardFor(u *userentity.User) Card {
	c := Card{
		FullName:          u.FullName,
		Role:              u.Role,
		Status:            u.Status,
		Phone:             u.Phone,
		PhotoURL:          u.PhotoURL,
		ZonalCommittee:    u.ZonalCommittee,
		RegionalCommittee: u.RegionalCommittee,
		JoinedAt:          u.JoinedAt,
	}
	if u.MemberID != nil {
		c.MemberID = *u.MemberID
	}
	return c
}
