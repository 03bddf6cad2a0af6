package sequence

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership/pkg/utilities"
)

// Handler exposes HTTP endpoints for member number counters.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type sequenceView struct {
	Prefix       string `json:"prefix"`
	LastValue    int64  `json:"last_value"`
	LastMemberID string `json:"last_member_id,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

// List handles GET /admin/member-sequences.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	seqs, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Errorw("list sequences failed", "err", err)
		apperr.Respond(w, err)
		return
	}
	out := make([]sequenceView, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, sequenceView{
			Prefix:       s.Prefix,
			LastValue:    s.LastValue,
			LastMemberID: s.LastMemberID(),
			UpdatedAt:    s.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]any{"sequences": out})
}
