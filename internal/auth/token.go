package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

// TokenTTLs configures the lifetime of each token purpose.
type TokenTTLs struct {
	Login      time.Duration
	Verify     time.Duration
	Membership time.Duration
}

// TokenService issues and decodes signed, typed, time-bound API tokens.
type TokenService struct {
	secret []byte
	ttls   TokenTTLs
	now    func() time.Time
}

// NewTokenService constructs a TokenService with HS256 signing.
func NewTokenService(secret string, ttls TokenTTLs) *TokenService {
	return &TokenService{secret: []byte(secret), ttls: ttls, now: time.Now}
}

type apiClaims struct {
	jwt.RegisteredClaims
	Purpose string       `json:"purpose"`
	Context TokenContext `json:"context,omitempty"`
}

// Create issues a token bound to the application key with the given purpose
// and context.
func (s *TokenService) Create(app Application, purpose TokenPurpose, context TokenContext) (string, error) {
	if app.Key == "" {
		return "", fmt.Errorf("token: %w", shared.ErrApplicationInactive)
	}
	now := s.now()
	claims := apiClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{app.Key},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl(purpose))),
			ID:        uuid.NewString(),
		},
		Purpose: string(purpose),
		Context: context,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Decode validates raw against the expected purpose and, when audience is
// non-empty, against the presenting application key. Every failure mode
// (signature, expiry, purpose, audience) collapses into ErrTokenInvalid so
// callers fail closed without leaking which check tripped.
func (s *TokenService) Decode(raw string, expected TokenPurpose, audience string) (TokenData, error) {
	claims := &apiClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return TokenData{}, shared.ErrTokenInvalid
	}
	if TokenPurpose(claims.Purpose) != expected {
		return TokenData{}, shared.ErrTokenInvalid
	}
	aud := ""
	if len(claims.Audience) > 0 {
		aud = claims.Audience[0]
	}
	if audience != "" && aud != audience {
		return TokenData{}, shared.ErrTokenInvalid
	}
	return TokenData{
		Audience: aud,
		Purpose:  TokenPurpose(claims.Purpose),
		Context:  claims.Context,
	}, nil
}

func (s *TokenService) ttl(purpose TokenPurpose) time.Duration {
	switch purpose {
	case PurposeVerify:
		if s.ttls.Verify > 0 {
			return s.ttls.Verify
		}
		return 15 * time.Minute
	case PurposeMembership:
		if s.ttls.Membership > 0 {
			return s.ttls.Membership
		}
		return 30 * time.Minute
	default:
		if s.ttls.Login > 0 {
			return s.ttls.Login
		}
		return 24 * time.Hour
	}
}
