package membership

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership/internal/auth"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/utilities"
)

// Handler exposes member and admin endpoints of the membership workflow.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Apply handles POST /members/apply.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	var app Application
	if !h.decode(w, r, &app) {
		return
	}
	id, err := h.svc.Submit(r.Context(), auth.SubjectFromContext(r.Context()), app)
	if err != nil {
		h.fail(w, "apply failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]string{
		"message":        "Application submitted successfully. Waiting for admin approval.",
		"application_id": id,
		"status":         "PENDING",
	})
}

// Status handles GET /members/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Status(r.Context(), auth.SubjectFromContext(r.Context()))
	if err != nil {
		h.fail(w, "status failed", err)
		return
	}
	if req == nil {
		utilities.WriteJSON(w, http.StatusOK, map[string]string{"status": "NONE", "message": "No application found"})
		return
	}
	utilities.WriteJSON(w, http.StatusOK, req)
}

// Card handles GET /members/card. The route is guarded by auth.Middleware.Active.
func (h *Handler) Card(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Respond(w, apperr.Unauthenticated("Not authenticated"))
		return
	}
	card, err := h.svc.Card(u)
	if err != nil {
		h.fail(w, "card failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, card)
}

// PendingRequests handles GET /admin/pending-requests.
func (h *Handler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListPending(r.Context())
	if err != nil {
		h.fail(w, "list pending failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, list)
}

// ApproveRequest handles POST /admin/approve-request.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var d Decision
	if !h.decode(w, r, &d) {
		return
	}
	approval, err := h.svc.Decide(r.Context(), d)
	if err != nil {
		h.fail(w, "decision failed", err)
		return
	}
	if approval == nil {
		utilities.WriteJSON(w, http.StatusOK, map[string]string{"message": "Request rejected"})
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]string{
		"message":   "User approved successfully",
		"member_id": approval.MemberID,
		"role":      string(approval.Role),
	})
}

// CreateMember handles POST /admin/members.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var in NewMember
	if !h.decode(w, r, &in) {
		return
	}
	p, err := h.svc.CreateMember(r.Context(), in)
	if err != nil {
		h.fail(w, "create member failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, map[string]any{
		"message":   "Member created successfully",
		"user_id":   p.UserID,
		"member_id": p.MemberID,
		"role":      p.Role,
		"created":   p.Created,
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
