package sequence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership/internal/sequence/entity"
)

type stubLister struct {
	seqs []*entity.Sequence
	err  error
}

func (s stubLister) List(context.Context) ([]*entity.Sequence, error) { return s.seqs, s.err }

func TestHandlerList(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	h := NewHandler(NewService(stubLister{seqs: []*entity.Sequence{
		{Prefix: "NID", LastValue: 5, UpdatedAt: now},
	}}), zap.NewNop().Sugar())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/admin/member-sequences", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sequences []sequenceView `json:"sequences"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Sequences, 1)
	assert.Equal(t, "NID", body.Sequences[0].Prefix)
	assert.Equal(t, "NID-005", body.Sequences[0].LastMemberID)
	assert.Equal(t, "2026-06-01T00:00:00Z", body.Sequences[0].UpdatedAt)
}

func TestHandlerListFailure(t *testing.T) {
	h := NewHandler(NewService(stubLister{err: errors.New("down")}), zap.NewNop().Sugar())
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/admin/member-sequences", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
