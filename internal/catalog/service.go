package catalog

import (
	"context"

	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

// RepositoryPort defines data access for the per-user catalog relations.
type RepositoryPort interface {
	ListUserBadges(ctx context.Context, userID int64, limit, offset int) ([]EarnedBadge, error)
	CountUserBadges(ctx context.Context, userID int64) (int, error)
	ListUserActivities(ctx context.Context, userID int64, limit, offset int) ([]CompletedActivity, error)
	CountUserActivities(ctx context.Context, userID int64) (int, error)
	ListUserRewards(ctx context.Context, userID int64, limit, offset int) ([]RedeemedReward, error)
	CountUserRewards(ctx context.Context, userID int64) (int, error)
}

// Service serves paginated catalog listings per user.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// UserBadges lists the badges a user earned.
func (s *Service) UserBadges(ctx context.Context, userID int64, page, perPage int) ([]EarnedBadge, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	total, err := s.repo.CountUserBadges(ctx, userID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	items, err := s.repo.ListUserBadges(ctx, userID, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// UserActivities lists the activities a user completed.
func (s *Service) UserActivities(ctx context.Context, userID int64, page, perPage int) ([]CompletedActivity, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	total, err := s.repo.CountUserActivities(ctx, userID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	items, err := s.repo.ListUserActivities(ctx, userID, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// UserRewards lists the rewards a user redeemed.
func (s *Service) UserRewards(ctx context.Context, userID int64, page, perPage int) ([]RedeemedReward, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	total, err := s.repo.CountUserRewards(ctx, userID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	items, err := s.repo.ListUserRewards(ctx, userID, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(p.Page, p.PerPage, total), nil
}
