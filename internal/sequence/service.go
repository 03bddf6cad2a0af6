package sequence

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-membership/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership/internal/sequence/entity"
)

// Lister reads all counters.
type Lister interface {
	List(ctx context.Context) ([]*entity.Sequence, error)
}

// Service exposes the member number counters to administrators.
type Service struct {
	repo Lister
}

func NewService(r Lister) *Service {
	return &Service{repo: r}
}

// List returns the counters ordered by prefix.
func (s *Service) List(ctx context.Context) ([]*entity.Sequence, error) {
	seqs, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperr.Internal("Failed to load member sequences", err)
	}
	return seqs, nil
}
