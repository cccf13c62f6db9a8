package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	GetApplicationByKey(ctx context.Context, key string) (*Application, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetApplicationByKey fetches an application credential by its key.
func (r *PGRepository) GetApplicationByKey(ctx context.Context, key string) (*Application, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, key, name, is_active FROM applications WHERE key = $1`, key)
	var app Application
	if err := row.Scan(&app.ID, &app.Key, &app.Name, &app.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &app, nil
}

var _ Repository = (*PGRepository)(nil)

// CachedRepository layers a short-lived Redis cache over application lookups.
// Every authenticated request resolves its application key, so the cache is
// fronted by singleflight to keep concurrent misses from stampeding postgres.
type CachedRepository struct {
	next   Repository
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedRepository wraps next with a Redis cache.
func NewCachedRepository(next Repository, client *redis.Client, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepository{next: next, client: client, ttl: ttl}
}

// GetApplicationByKey resolves through the cache, falling back to the
// underlying repository. Cache failures degrade to direct lookups.
func (r *CachedRepository) GetApplicationByKey(ctx context.Context, key string) (*Application, error) {
	if r.client != nil {
		if data, err := r.client.Get(ctx, r.cacheKey(key)).Bytes(); err == nil {
			var app Application
			if err := json.Unmarshal(data, &app); err == nil {
				return &app, nil
			}
		}
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		app, err := r.next.GetApplicationByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if r.client != nil {
			if data, err := json.Marshal(app); err == nil {
				_ = r.client.Set(ctx, r.cacheKey(key), data, r.ttl).Err()
			}
		}
		return app, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Application), nil
}

func (r *CachedRepository) cacheKey(key string) string {
	return "appkey:" + key
}

var _ Repository = (*CachedRepository)(nil)
