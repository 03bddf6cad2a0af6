package user

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership/internal/auth"
	"github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/utilities"
)

// Handler exposes HTTP endpoints for registration, PIN auth and account admin.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
}

// SetPINRequest set-pin payload.
type SetPINRequest struct {
	PIN string `json:"pin"`
}

// UnlockRequest unlock-account payload.
type UnlockRequest struct {
	UserID string `json:"user_id"`
}

// MeResponse is the public projection of the caller's account.
type MeResponse struct {
	ID         string        `json:"id"`
	Identifier string        `json:"identifier"`
	FullName   *string       `json:"full_name"`
	Role       entity.Role   `json:"role"`
	Status     entity.Status `json:"status"`
	MemberID   *string       `json:"member_id"`
	JoinedAt   *time.Time    `json:"joined_at"`
	CreatedAt  time.Time     `json:"created_at"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req Registration
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.fail(w, "register failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.svc.Login(r.Context(), Credentials{Identifier: req.Phone, PIN: req.PIN})
	if err != nil {
		h.fail(w, "login failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.svc.Verify(r.Context(), req)
	if err != nil {
		h.fail(w, "verify pin failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) SetPIN(w http.ResponseWriter, r *http.Request) {
	var req SetPINRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SetPIN(r.Context(), auth.SubjectFromContext(r.Context()), req.PIN); err != nil {
		h.fail(w, "set pin failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]string{"message": "PIN set successfully"})
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Unlock(r.Context(), req.UserID); err != nil {
		h.fail(w, "unlock failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]string{"message": "Account unlocked successfully"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Me(r.Context(), auth.SubjectFromContext(r.Context()))
	if err != nil {
		h.fail(w, "me failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, MeResponse{
		ID:         u.ID,
		Identifier: u.Identifier,
		FullName:   u.FullName,
		Role:       u.Role,
		Status:     u.Status,
		MemberID:   u.MemberID,
		JoinedAt:   u.JoinedAt,
		CreatedAt:  u.CreatedAt,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := utilities.DecodeJSON(r, v); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		apperr.Respond(w, apperr.Invalid("invalid payload"))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.logger.Errorw(msg, "err", err)
	} else {
		h.logger.Debugw(msg, "err", err)
	}
	apperr.Respond(w, err)
}
