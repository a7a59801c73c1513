package branches

import (
	"context"
	"fmt"
	"strings"

	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

// Service answers directory questions for the reporting layer.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// DefaultScope picks the report scope for a viewer's home branch. Head
// offices see every branch; storefronts see only themselves. An empty id
// yields the whole-system scope.
func (s *Service) DefaultScope(ctx context.Context, branchID string) (settlement.Scope, error) {
	branchID = strings.TrimSpace(branchID)
	if branchID == "" {
		return settlement.AllBranches, nil
	}
	b, err := s.repo.Get(ctx, branchID)
	if err != nil {
		return settlement.Scope{}, err
	}
	switch b.Type {
	case TypeHeadOffice:
		return settlement.AllBranches, nil
	case TypeStorefront:
		return settlement.ForBranch(b.ID), nil
	default:
		return settlement.Scope{}, fmt.Errorf("%w: %q", ErrUnknownType, b.Type)
	}
}

// Names maps branch ids to display names.
func (s *Service) Names(ctx context.Context) (map[string]string, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(list))
	for _, b := range list {
		names[b.ID] = b.Name
	}
	return names, nil
}

// List returns the full directory.
func (s *Service) List(ctx context.Context) ([]Branch, error) {
	return s.repo.List(ctx)
}
