package legacy

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SourceUser is one row from the legacy WordPress user table with its
// flattened metadata.
type SourceUser struct {
	ID           int64
	Login        string
	Email        string
	RegisteredAt time.Time
	Metadata     map[string]string
}

// SourceRepository reads users from the legacy system.
type SourceRepository interface {
	// UsersAfter returns up to limit users with id > cursor, ascending.
	UsersAfter(ctx context.Context, cursor int64, limit int) ([]SourceUser, error)
}

// PGSource reads the WordPress schema over a dedicated connection pool.
type PGSource struct {
	pool *pgxpool.Pool
}

// NewPGSource constructs a source reader.
func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

// UsersAfter implements SourceRepository against wp_users/wp_usermeta.
func (s *PGSource) UsersAfter(ctx context.Context, cursor int64, limit int) ([]SourceUser, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_login, user_email, user_registered FROM wp_users
		 WHERE id > $1 ORDER BY id LIMIT $2`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]SourceUser, 0, limit)
	for rows.Next() {
		u := SourceUser{Metadata: map[string]string{}}
		if err := rows.Scan(&u.ID, &u.Login, &u.Email, &u.RegisteredAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range users {
		meta, err := s.metadata(ctx, users[i].ID)
		if err != nil {
			return nil, err
		}
		users[i].Metadata = meta
	}
	return users, nil
}

func (s *PGSource) metadata(ctx context.Context, userID int64) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT meta_key, meta_value FROM wp_usermeta WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		meta[key] = value
	}
	return meta, rows.Err()
}
