package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

// snapshotClassMarker is the internal type marker some membership providers
// leave in their snapshots. It is stripped before a snapshot is returned to
// a client.
const snapshotClassMarker = "classname"

// UserDirectory resolves local accounts for the login flows.
type UserDirectory interface {
	// FindByLogin resolves by username or email.
	FindByLogin(ctx context.Context, login string) (*Identity, error)
	// FindByBarcode resolves by a scannable card code.
	FindByBarcode(ctx context.Context, barcode string) (*Identity, error)
}

// MembershipResolver locates external memberships for credentials that did
// not resolve to a local user.
type MembershipResolver interface {
	Lookup(ctx context.Context, login string) (*MembershipMatch, error)
}

// MembershipProviders dispatches verification and persistence to the
// provider registered under a plugin ID.
type MembershipProviders interface {
	Verify(ctx context.Context, pluginID string, snapshot map[string]any, hints MembershipHints) (bool, error)
	Save(ctx context.Context, pluginID string, userID int64, snapshot map[string]any) error
}

// Manager coordinates credential authentication, token issuance and the
// two-step membership verification flow.
type Manager struct {
	repo      Repository
	tokens    *TokenService
	users     UserDirectory
	resolver  MembershipResolver
	providers MembershipProviders
}

// NewManager constructs a Manager.
func NewManager(repo Repository, tokens *TokenService, users UserDirectory, resolver MembershipResolver, providers MembershipProviders) *Manager {
	return &Manager{repo: repo, tokens: tokens, users: users, resolver: resolver, providers: providers}
}

// Tokens exposes the underlying token service.
func (m *Manager) Tokens() *TokenService {
	return m.tokens
}

// VerifyApplication resolves key to an active application.
func (m *Manager) VerifyApplication(ctx context.Context, key string) (*Application, error) {
	if key == "" {
		return nil, shared.ErrApplicationInactive
	}
	app, err := m.repo.GetApplicationByKey(ctx, key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrApplicationInactive
		}
		return nil, err
	}
	if !app.IsActive {
		return nil, shared.ErrApplicationInactive
	}
	return app, nil
}

// Attempt validates credentials and produces one of three outcomes: a local
// user with a login token, an external membership match with a verify token,
// or ErrNotFound.
func (m *Manager) Attempt(ctx context.Context, creds Credentials) (*AttemptResult, error) {
	app, err := m.VerifyApplication(ctx, creds.AppKey)
	if err != nil {
		return nil, err
	}

	identity, err := m.resolveIdentity(ctx, creds)
	switch {
	case err == nil:
		token, err := m.tokens.Create(*app, PurposeLogin, TokenContext{})
		if err != nil {
			return nil, err
		}
		return &AttemptResult{User: identity, Token: token}, nil
	case errors.Is(err, shared.ErrNotFound):
		// No local account. A known external membership still yields a
		// verification flow instead of a dead end.
		return m.attemptMembership(ctx, *app, creds.Login)
	default:
		return nil, err
	}
}

func (m *Manager) resolveIdentity(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.Login == "" {
		return nil, shared.ErrNotFound
	}
	if creds.NoPassword {
		identity, err := m.users.FindByBarcode(ctx, creds.Login)
		if err != nil {
			return nil, err
		}
		// A deactivated account is rejected on the card path too.
		if !identity.IsActive {
			return nil, shared.ErrInvalidCredentials
		}
		return identity, nil
	}
	identity, err := m.users.FindByLogin(ctx, creds.Login)
	if err != nil {
		return nil, err
	}
	if !identity.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return identity, nil
}

func (m *Manager) attemptMembership(ctx context.Context, app Application, login string) (*AttemptResult, error) {
	if m.resolver == nil {
		return nil, shared.ErrNotFound
	}
	match, err := m.resolver.Lookup(ctx, login)
	if err != nil {
		return nil, err
	}
	token, err := m.tokens.Create(app, PurposeVerify, TokenContext{
		PluginID:   match.PluginID,
		Membership: match.Snapshot,
	})
	if err != nil {
		return nil, err
	}
	return &AttemptResult{Membership: match, Token: token}, nil
}

// VerifyMembership consumes a verify-purpose token, delegates the boolean
// check to the plugin named in the token context and, on success, returns
// the cleaned membership snapshot plus a membership-purpose token carrying
// the same context.
func (m *Manager) VerifyMembership(ctx context.Context, appKey, rawToken string, hints MembershipHints) (map[string]any, string, error) {
	data, err := m.tokens.Decode(rawToken, PurposeVerify, "")
	if err != nil {
		return nil, "", shared.ErrUnauthorized
	}

	// The token audience must equal the submitted key and the key must map
	// to an active application. A mismatch skips the lookup entirely so the
	// provider result can never override the precondition.
	if data.Audience != appKey {
		return nil, "", shared.ErrUnauthorized
	}
	app, err := m.VerifyApplication(ctx, appKey)
	if err != nil {
		return nil, "", shared.ErrUnauthorized
	}

	if data.Context.PluginID == "" || m.providers == nil {
		return nil, "", shared.ErrUnauthorized
	}
	ok, err := m.providers.Verify(ctx, data.Context.PluginID, data.Context.Membership, hints)
	if err != nil || !ok {
		return nil, "", shared.ErrUnauthorized
	}

	snapshot := stripClassMarker(data.Context.Membership)
	token, err := m.tokens.Create(*app, PurposeMembership, data.Context)
	if err != nil {
		return nil, "", err
	}
	return snapshot, token, nil
}

// ValidateMembershipToken decodes a membership-purpose token presented at
// registration. A wrong purpose or an audience that does not match the
// submitted application key is a client-fixable validation failure, per the
// registration contract.
func (m *Manager) ValidateMembershipToken(appKey, rawToken string) (TokenContext, error) {
	data, err := m.tokens.Decode(rawToken, PurposeMembership, appKey)
	if err != nil {
		return TokenContext{}, shared.NewValidationError("membership token is invalid for this application", map[string]string{
			"membership_token": "must be a valid membership token issued for the submitted app_key",
		})
	}
	return data.Context, nil
}

// BindMembership persists a verified membership for a newly registered user
// through the provider named in the token context.
func (m *Manager) BindMembership(ctx context.Context, pluginID string, userID int64, snapshot map[string]any) error {
	if m.providers == nil {
		return fmt.Errorf("auth: no membership providers configured")
	}
	return m.providers.Save(ctx, pluginID, userID, snapshot)
}

func stripClassMarker(snapshot map[string]any) map[string]any {
	out := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		if k == snapshotClassMarker {
			continue
		}
		out[k] = v
	}
	return out
}
