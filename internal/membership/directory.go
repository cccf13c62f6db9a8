package membership

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atrium-loyalty/atrium-loyalty/internal/auth"
	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

// DirectoryPluginID identifies the built-in directory provider backed by the
// members table.
const DirectoryPluginID = "membership.directory"

// directoryClassMarker mirrors the type marker legacy snapshots carry; the
// auth flow strips it before a snapshot leaves the API.
const directoryClassMarker = "membership.directory.Member"

// member is a row from the members table.
type member struct {
	ID           int64
	MemberNumber string
	Barcode      string
	FirstName    string
	LastName     string
	Email        string
	Level        string
	IsCurrent    bool
	ExpiresAt    *time.Time
}

// DirectoryProvider verifies memberships against the local members table and
// records bindings in user_memberships.
type DirectoryProvider struct {
	pool *pgxpool.Pool
}

// NewDirectoryProvider constructs a DirectoryProvider.
func NewDirectoryProvider(pool *pgxpool.Pool) *DirectoryProvider {
	return &DirectoryProvider{pool: pool}
}

// Verify confirms the member exists, is current, and that the submitted
// hints match the directory record: first and last name together, or the
// email alone.
func (p *DirectoryProvider) Verify(ctx context.Context, snapshot map[string]any, hints auth.MembershipHints) (bool, error) {
	number, _ := snapshot["member_number"].(string)
	if number == "" {
		return false, nil
	}
	record, err := p.findByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !record.IsCurrent {
		return false, nil
	}
	return matchHints(record, hints), nil
}

// Save persists the membership binding for a registered user.
func (p *DirectoryProvider) Save(ctx context.Context, userID int64, snapshot map[string]any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	number, _ := snapshot["member_number"].(string)
	_, err = p.pool.Exec(ctx,
		`INSERT INTO user_memberships (user_id, plugin_id, member_number, snapshot, bound_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id, plugin_id) DO UPDATE SET member_number = EXCLUDED.member_number, snapshot = EXCLUDED.snapshot, bound_at = NOW()`,
		userID, DirectoryPluginID, number, data)
	return err
}

// Lookup resolves a login (card barcode or member number) to a membership
// match for the authentication flow. Implements auth.MembershipResolver.
func (p *DirectoryProvider) Lookup(ctx context.Context, login string) (*auth.MembershipMatch, error) {
	record, err := p.findByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if !record.IsCurrent {
		return nil, shared.ErrNotFound
	}
	snapshot := map[string]any{
		"classname":     directoryClassMarker,
		"member_number": record.MemberNumber,
		"level":         record.Level,
	}
	if record.ExpiresAt != nil {
		snapshot["expires_at"] = record.ExpiresAt.Format(time.RFC3339)
	}
	return &auth.MembershipMatch{
		PluginID: DirectoryPluginID,
		Snapshot: snapshot,
		Hints: auth.MembershipHints{
			FirstName: record.FirstName,
			LastName:  record.LastName,
			Email:     record.Email,
		},
	}, nil
}

func (p *DirectoryProvider) findByNumber(ctx context.Context, number string) (*member, error) {
	return p.scanOne(ctx,
		`SELECT id, member_number, barcode, first_name, last_name, email, level, is_current, expires_at
		 FROM members WHERE member_number = $1`, number)
}

func (p *DirectoryProvider) findByLogin(ctx context.Context, login string) (*member, error) {
	return p.scanOne(ctx,
		`SELECT id, member_number, barcode, first_name, last_name, email, level, is_current, expires_at
		 FROM members WHERE member_number = $1 OR barcode = $1 OR lower(email) = lower($1)`, login)
}

func (p *DirectoryProvider) scanOne(ctx context.Context, query, arg string) (*member, error) {
	row := p.pool.QueryRow(ctx, query, arg)
	var m member
	if err := row.Scan(&m.ID, &m.MemberNumber, &m.Barcode, &m.FirstName, &m.LastName, &m.Email, &m.Level, &m.IsCurrent, &m.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func matchHints(record *member, hints auth.MembershipHints) bool {
	first := strings.TrimSpace(hints.FirstName)
	last := strings.TrimSpace(hints.LastName)
	if first != "" && last != "" {
		return strings.EqualFold(first, record.FirstName) && strings.EqualFold(last, record.LastName)
	}
	email := strings.TrimSpace(hints.Email)
	if email != "" {
		return strings.EqualFold(email, record.Email)
	}
	return false
}

var (
	_ Provider                = (*DirectoryProvider)(nil)
	_ auth.MembershipResolver = (*DirectoryProvider)(nil)
)
