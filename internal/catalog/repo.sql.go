package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed reads for the badge, activity and
// reward catalog and their per-user relations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUserBadges returns the badges a user earned, newest first.
func (r *Repository) ListUserBadges(ctx context.Context, userID int64, limit, offset int) ([]EarnedBadge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT b.id, b.title, b.description, b.image_url, b.points, b.is_active, ub.earned_at
		 FROM user_badges ub JOIN badges b ON b.id = ub.badge_id
		 WHERE ub.user_id = $1
		 ORDER BY ub.earned_at DESC, b.id
		 LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanRows(rows, func(row pgx.Rows) (EarnedBadge, error) {
		var e EarnedBadge
		err := row.Scan(&e.Badge.ID, &e.Badge.Title, &e.Badge.Description, &e.Badge.ImageURL,
			&e.Badge.Points, &e.Badge.IsActive, &e.EarnedAt)
		return e, err
	})
}

// CountUserBadges counts the badges a user earned.
func (r *Repository) CountUserBadges(ctx context.Context, userID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM user_badges WHERE user_id = $1`, userID)
}

// ListUserActivities returns the activities a user completed, newest first.
func (r *Repository) ListUserActivities(ctx context.Context, userID int64, limit, offset int) ([]CompletedActivity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.title, a.description, a.points, a.is_active, ua.completed_at
		 FROM user_activities ua JOIN activities a ON a.id = ua.activity_id
		 WHERE ua.user_id = $1
		 ORDER BY ua.completed_at DESC, a.id
		 LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanRows(rows, func(row pgx.Rows) (CompletedActivity, error) {
		var c CompletedActivity
		err := row.Scan(&c.Activity.ID, &c.Activity.Title, &c.Activity.Description,
			&c.Activity.Points, &c.Activity.IsActive, &c.CompletedAt)
		return c, err
	})
}

// CountUserActivities counts the activities a user completed.
func (r *Repository) CountUserActivities(ctx context.Context, userID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM user_activities WHERE user_id = $1`, userID)
}

// ListUserRewards returns the rewards a user redeemed, newest first.
func (r *Repository) ListUserRewards(ctx context.Context, userID int64, limit, offset int) ([]RedeemedReward, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT rw.id, rw.title, rw.description, rw.image_url, rw.points_cost, rw.inventory, rw.is_active, ur.redeemed_at
		 FROM user_rewards ur JOIN rewards rw ON rw.id = ur.reward_id
		 WHERE ur.user_id = $1
		 ORDER BY ur.redeemed_at DESC, rw.id
		 LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanRows(rows, func(row pgx.Rows) (RedeemedReward, error) {
		var rr RedeemedReward
		err := row.Scan(&rr.Reward.ID, &rr.Reward.Title, &rr.Reward.Description, &rr.Reward.ImageURL,
			&rr.Reward.PointsCost, &rr.Reward.Inventory, &rr.Reward.IsActive, &rr.RedeemedAt)
		return rr, err
	})
}

// CountUserRewards counts the rewards a user redeemed.
func (r *Repository) CountUserRewards(ctx context.Context, userID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM user_rewards WHERE user_id = $1`, userID)
}

func (r *Repository) count(ctx context.Context, query string, userID int64) (int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func scanRows[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	items := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
