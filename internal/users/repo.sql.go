package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atrium-loyalty/atrium-loyalty/internal/auth"
	"github.com/atrium-loyalty/atrium-loyalty/internal/platform/db"
	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

// ErrEmailTaken indicates a unique violation on the email column.
var ErrEmailTaken = errors.New("email already registered")

const uniqueViolation = "23505"

const profileColumns = `u.id, u.username, u.name, u.email, u.password_hash,
	u.phone, u.street_addr, u.city, u.state, u.zip, u.is_active, u.created_at, u.updated_at,
	m.first_name, m.last_name, m.birth_date, m.email_optin, m.gender, m.race,
	m.household_income, m.education, m.points, m.current_member, m.current_member_number`

// Repository provides PostgreSQL backed persistence for users and metadata.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProfile returns a user with metadata by id.
func (r *Repository) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+profileColumns+`
		 FROM users u JOIN user_metadata m ON m.user_id = u.id
		 WHERE u.id = $1`, id)
	return scanProfile(row)
}

// CreateWithMetadata inserts a user and its metadata in one transaction.
// The user's ID is populated on success.
func (r *Repository) CreateWithMetadata(ctx context.Context, user *User, meta *Metadata) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO users (username, name, email, password_hash, phone, street_addr, city, state, zip, is_active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, NOW(), NOW())
			 RETURNING id, created_at, updated_at`,
			user.Username, user.Name, user.Email, user.PasswordHash,
			user.Phone, user.StreetAddr, user.City, user.State, user.Zip)
		if err := row.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt); err != nil {
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
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return err
	}
	user.IsActive = true
	return nil
}

// UpdateProfile persists user and metadata changes in one transaction.
func (r *Repository) UpdateProfile(ctx context.Context, profile *Profile) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET name = $2, email = $3, password_hash = $4, phone = $5,
			        street_addr = $6, city = $7, state = $8, zip = $9, updated_at = NOW()
			 WHERE id = $1`,
			profile.User.ID, profile.User.Name, profile.User.Email, profile.User.PasswordHash,
			profile.User.Phone, profile.User.StreetAddr, profile.User.City, profile.User.State, profile.User.Zip); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE user_metadata SET first_name = $2, last_name = $3, birth_date = $4,
			        email_optin = $5, gender = $6, race = $7, household_income = $8, education = $9
			 WHERE user_id = $1`,
			profile.User.ID, profile.Metadata.FirstName, profile.Metadata.LastName, profile.Metadata.BirthDate,
			profile.Metadata.EmailOptin, profile.Metadata.Gender, profile.Metadata.Race,
			profile.Metadata.HouseholdIncome, profile.Metadata.Education)
		return err
	})
}

// FindByLogin resolves an identity by username or email for the auth flow.
func (r *Repository) FindByLogin(ctx context.Context, login string) (*auth.Identity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, is_active FROM users
		 WHERE username = $1 OR lower(email) = lower($1)`, login)
	return scanIdentity(row)
}

// FindByBarcode resolves an identity by the member card number stored in the
// user metadata.
func (r *Repository) FindByBarcode(ctx context.Context, barcode string) (*auth.Identity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT u.id, u.name, u.email, u.password_hash, u.is_active
		 FROM users u JOIN user_metadata m ON m.user_id = u.id
		 WHERE m.current_member_number = $1 AND m.current_member`, barcode)
	return scanIdentity(row)
}

func scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var id auth.Identity
	if err := row.Scan(&id.ID, &id.Name, &id.Email, &id.PasswordHash, &id.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &id, nil
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(
		&p.User.ID, &p.User.Username, &p.User.Name, &p.User.Email, &p.User.PasswordHash,
		&p.User.Phone, &p.User.StreetAddr, &p.User.City, &p.User.State, &p.User.Zip,
		&p.User.IsActive, &p.User.CreatedAt, &p.User.UpdatedAt,
		&p.Metadata.FirstName, &p.Metadata.LastName, &p.Metadata.BirthDate, &p.Metadata.EmailOptin,
		&p.Metadata.Gender, &p.Metadata.Race, &p.Metadata.HouseholdIncome, &p.Metadata.Education,
		&p.Metadata.Points, &p.Metadata.CurrentMember, &p.Metadata.CurrentMemberNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	p.Metadata.UserID = p.User.ID
	return &p, nil
}

var _ auth.UserDirectory = (*Repository)(nil)
