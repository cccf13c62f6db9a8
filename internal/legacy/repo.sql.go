package legacy

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atrium-loyalty/atrium-loyalty/internal/platform/db"
	"github.com/atrium-loyalty/atrium-loyalty/internal/users"
)

// PGTarget writes imported users into the platform database. The force
// path inserts directly so the import never trips registration validation.
type PGTarget struct {
	pool *pgxpool.Pool
}

// NewPGTarget constructs a target store.
func NewPGTarget(pool *pgxpool.Pool) *PGTarget {
	return &PGTarget{pool: pool}
}

// MaxUserID returns the highest local user id, or zero for an empty table.
func (t *PGTarget) MaxUserID(ctx context.Context) (int64, error) {
	var max int64
	err := t.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM users`).Scan(&max)
	return max, err
}

// EmailExists reports whether a user with this email already exists.
func (t *PGTarget) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := t.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1))`, email).Scan(&exists)
	return exists, err
}

// ForceCreateUser inserts the user and metadata in one transaction. The
// caller-supplied id is written as-is: imported users keep their legacy id so
// the MaxUserID cursor tracks the source table.
func (t *PGTarget) ForceCreateUser(ctx context.Context, user *users.User, meta *users.Metadata) error {
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return db.WithTx(ctx, t.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO users (id, username, name, email, password_hash, phone, street_addr, city, state, zip, is_active, created_at, updated_at)
			 OVERRIDING SYSTEM VALUE
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
			 RETURNING created_at, updated_at`,
			user.ID, user.Username, user.Name, user.Email, user.PasswordHash,
			user.Phone, user.StreetAddr, user.City, user.State, user.Zip, user.IsActive, createdAt)
		if err := row.Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`SELECT setval(pg_get_serial_sequence('users', 'id'), (SELECT MAX(id) FROM users))`); err != nil {
			return err
		}
		meta.UserID = user.ID
		_, err := tx.Exec(ctx,
			`INSERT INTO user_metadata (user_id, first_name, last_name, birth_date, email_optin, gender, race, household_income, education, points, current_member, current_member_number)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			meta.UserID, meta.FirstName, meta.LastName, meta.BirthDate, meta.EmailOptin,
			meta.Gender, meta.Race, meta.HouseholdIncome, meta.Education,
			meta.Points, meta.CurrentMember, meta.CurrentMemberNumber)
		return err
	})
}

var _ TargetStore = (*PGTarget)(nil)
var _ SourceRepository = (*PGSource)(nil)
