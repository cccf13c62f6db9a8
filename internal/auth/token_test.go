package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

func newTestTokenService() *TokenService {
	return NewTokenService("test-secret", TokenTTLs{
		Login:      time.Hour,
		Verify:     15 * time.Minute,
		Membership: 30 * time.Minute,
	})
}

func TestTokenRoundTripPreservesContext(t *testing.T) {
	svc := newTestTokenService()
	app := Application{Key: "kiosk-app", IsActive: true}
	context := TokenContext{
		PluginID: "membership.directory",
		Membership: map[string]any{
			"member_number": "M-1001",
			"level":         "patron",
		},
	}

	raw, err := svc.Create(app, PurposeVerify, context)
	require.NoError(t, err)

	data, err := svc.Decode(raw, PurposeVerify, "kiosk-app")
	require.NoError(t, err)
	require.Equal(t, "kiosk-app", data.Audience)
	require.Equal(t, PurposeVerify, data.Purpose)
	require.Equal(t, "membership.directory", data.Context.PluginID)
	require.Equal(t, "M-1001", data.Context.Membership["member_number"])
	require.Equal(t, "patron", data.Context.Membership["level"])
}

func TestTokenPurposeMismatchFailsClosed(t *testing.T) {
	svc := newTestTokenService()
	raw, err := svc.Create(Application{Key: "kiosk-app"}, PurposeVerify, TokenContext{})
	require.NoError(t, err)

	_, err = svc.Decode(raw, PurposeLogin, "")
	require.ErrorIs(t, err, shared.ErrTokenInvalid)
	_, err = svc.Decode(raw, PurposeMembership, "")
	require.ErrorIs(t, err, shared.ErrTokenInvalid)
}

func TestTokenAudienceRule(t *testing.T) {
	svc := newTestTokenService()
	raw, err := svc.Create(Application{Key: "kiosk-app"}, PurposeMembership, TokenContext{})
	require.NoError(t, err)

	_, err = svc.Decode(raw, PurposeMembership, "other-app")
	require.ErrorIs(t, err, shared.ErrTokenInvalid)

	// Empty audience rule skips the check.
	_, err = svc.Decode(raw, PurposeMembership, "")
	require.NoError(t, err)
}

func TestTokenTamperedSignatureRejected(t *testing.T) {
	svc := newTestTokenService()
	raw, err := svc.Create(Application{Key: "kiosk-app"}, PurposeLogin, TokenContext{})
	require.NoError(t, err)

	other := NewTokenService("different-secret", TokenTTLs{Login: time.Hour})
	_, err = other.Decode(raw, PurposeLogin, "kiosk-app")
	require.ErrorIs(t, err, shared.ErrTokenInvalid)
}

func TestTokenExpiryRejected(t *testing.T) {
	svc := newTestTokenService()
	raw, err := svc.Create(Application{Key: "kiosk-app"}, PurposeVerify, TokenContext{})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(16 * time.Minute) }
	_, err = svc.Decode(raw, PurposeVerify, "kiosk-app")
	require.ErrorIs(t, err, shared.ErrTokenInvalid)
}
