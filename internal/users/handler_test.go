package users

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/atrium-loyalty/atrium-loyalty/internal/auth"
	"github.com/atrium-loyalty/atrium-loyalty/internal/catalog"
	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

func (m *memoryRepo) FindByLogin(_ context.Context, login string) (*auth.Identity, error) {
	for _, p := range m.profiles {
		if p.User.Username == login || strings.EqualFold(p.User.Email, login) {
			return &auth.Identity{
				ID:           p.User.ID,
				Name:         p.User.Name,
				Email:        p.User.Email,
				PasswordHash: p.User.PasswordHash,
				IsActive:     p.User.IsActive,
			}, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memoryRepo) FindByBarcode(_ context.Context, barcode string) (*auth.Identity, error) {
	for _, p := range m.profiles {
		if p.Metadata.CurrentMember && p.Metadata.CurrentMemberNumber == barcode {
			return &auth.Identity{
				ID:           p.User.ID,
				Name:         p.User.Name,
				Email:        p.User.Email,
				PasswordHash: p.User.PasswordHash,
				IsActive:     p.User.IsActive,
			}, nil
		}
	}
	return nil, shared.ErrNotFound
}

type stubAppRepo struct{}

func (stubAppRepo) GetApplicationByKey(_ context.Context, key string) (*auth.Application, error) {
	if key == "kiosk-app" {
		return &auth.Application{ID: 1, Key: "kiosk-app", Name: "Kiosk", IsActive: true}, nil
	}
	return nil, shared.ErrNotFound
}

type stubProviders struct {
	verifyOK bool
	saved    []int64
	saveErr  error
}

func (s *stubProviders) Verify(context.Context, string, map[string]any, auth.MembershipHints) (bool, error) {
	return s.verifyOK, nil
}

func (s *stubProviders) Save(_ context.Context, _ string, userID int64, _ map[string]any) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, userID)
	return nil
}

type stubCatalogRepo struct{}

func (stubCatalogRepo) ListUserBadges(context.Context, int64, int, int) ([]catalog.EarnedBadge, error) {
	return []catalog.EarnedBadge{{Badge: catalog.Badge{ID: 9, Title: "Explorer", Points: 25}, EarnedAt: time.Now()}}, nil
}
func (stubCatalogRepo) CountUserBadges(context.Context, int64) (int, error) { return 1, nil }
func (stubCatalogRepo) ListUserActivities(context.Context, int64, int, int) ([]catalog.CompletedActivity, error) {
	return nil, nil
}
func (stubCatalogRepo) CountUserActivities(context.Context, int64) (int, error) { return 0, nil }
func (stubCatalogRepo) ListUserRewards(context.Context, int64, int, int) ([]catalog.RedeemedReward, error) {
	return nil, nil
}
func (stubCatalogRepo) CountUserRewards(context.Context, int64) (int, error) { return 0, nil }

type handlerFixture struct {
	router    http.Handler
	repo      *memoryRepo
	tokens    *auth.TokenService
	manager   *auth.Manager
	providers *stubProviders
	service   *Service
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	repo := newMemoryRepo()
	tokens := auth.NewTokenService("handler-test-secret", auth.TokenTTLs{
		Login: time.Hour, Verify: 15 * time.Minute, Membership: 30 * time.Minute,
	})
	providers := &stubProviders{verifyOK: true}
	manager := auth.NewManager(stubAppRepo{}, tokens, repo, nil, providers)
	service := NewService(repo)
	catalogService := catalog.NewService(stubCatalogRepo{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := NewHandler(logger, manager, service, catalogService, nil, nil, nil, nil)
	router := chi.NewRouter()
	router.Route("/api/v1/users", handler.MountRoutes)
	return &handlerFixture{
		router: router, repo: repo, tokens: tokens,
		manager: manager, providers: providers, service: service,
	}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *handlerFixture) registerUser(t *testing.T, email, password string) *Profile {
	t.Helper()
	profile, err := f.service.Register(context.Background(), RegisterInput{
		Email: email, Password: password, FirstName: "Test", LastName: "User",
	})
	require.NoError(t, err)
	return profile
}

func (f *handlerFixture) loginToken(t *testing.T) string {
	t.Helper()
	token, err := f.tokens.Create(auth.Application{Key: "kiosk-app", IsActive: true}, auth.PurposeLogin, auth.TokenContext{})
	require.NoError(t, err)
	return token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLoginReturnsProfileAndToken(t *testing.T) {
	f := newHandlerFixture(t)
	f.registerUser(t, "login@example.org", "secret123")

	rec := f.do(t, http.MethodPost, "/api/v1/users/login", map[string]any{
		"login": "login@example.org", "password": "secret123", "app_key": "kiosk-app",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	meta := body["meta"].(map[string]any)
	token := meta["token"].(string)
	data, err := f.tokens.Decode(token, auth.PurposeLogin, "kiosk-app")
	require.NoError(t, err)
	require.Equal(t, "kiosk-app", data.Audience)

	user := body["data"].(map[string]any)["user"].(map[string]any)
	require.Equal(t, "login@example.org", user["email"])
	_, hasHash := user["password_hash"]
	require.False(t, hasHash)
}

func TestLoginUnknownUserIs404(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/users/login", map[string]any{
		"login": "missing@example.org", "password": "whatever1", "app_key": "kiosk-app",
	}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginWrongPasswordIs401(t *testing.T) {
	f := newHandlerFixture(t)
	f.registerUser(t, "pw@example.org", "secret123")

	rec := f.do(t, http.MethodPost, "/api/v1/users/login", map[string]any{
		"login": "pw@example.org", "password": "wrong-pass", "app_key": "kiosk-app",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginMissingAppKeyIs400(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/users/login", map[string]any{
		"login": "a@example.org", "password": "secret123",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	fields := body["fields"].(map[string]any)
	require.Contains(t, fields, "app_key")
}

func TestCardLoginSkipsPassword(t *testing.T) {
	f := newHandlerFixture(t)
	profile := f.registerUser(t, "card@example.org", "secret123")
	stored := f.repo.profiles[profile.User.ID]
	stored.Metadata.CurrentMember = true
	stored.Metadata.CurrentMemberNumber = "CARD-42"

	rec := f.do(t, http.MethodPost, "/api/v1/users/login/card", map[string]any{
		"barcode": "CARD-42", "app_key": "kiosk-app",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRegisterCreatesUserAndBindsMembership(t *testing.T) {
	f := newHandlerFixture(t)

	membershipToken, err := f.tokens.Create(
		auth.Application{Key: "kiosk-app", IsActive: true},
		auth.PurposeMembership,
		auth.TokenContext{PluginID: "membership.directory", Membership: map[string]any{"member_number": "M-9"}},
	)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/users/", map[string]any{
		"app_key":          "kiosk-app",
		"email":            "new@example.org",
		"password":         "secret123",
		"first_name":       "New",
		"last_name":        "Member",
		"birthday_year":    "1990",
		"birthday_month":   "07",
		"birthday_day":     "15",
		"membership_token": membershipToken,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	meta := body["meta"].(map[string]any)
	require.Equal(t, true, meta["membership_bound"])
	require.NotEmpty(t, meta["token"])
	require.Len(t, f.providers.saved, 1)

	profile := body["data"].(map[string]any)["profile"].(map[string]any)
	require.Equal(t, "New", profile["first_name"])
	require.Contains(t, profile["birth_date"], "1990-07-15")
}

func TestRegisterMembershipTokenWrongAudience(t *testing.T) {
	f := newHandlerFixture(t)

	// Issued for a different application key.
	otherToken, err := f.tokens.Create(
		auth.Application{Key: "other-app", IsActive: true},
		auth.PurposeMembership,
		auth.TokenContext{PluginID: "membership.directory"},
	)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/users/", map[string]any{
		"app_key":          "kiosk-app",
		"email":            "reject@example.org",
		"password":         "secret123",
		"membership_token": otherToken,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	fields := body["fields"].(map[string]any)
	require.Contains(t, fields, "membership_token")
	// Nothing was written.
	require.Empty(t, f.repo.profiles)
}

func TestRegisterPartialBirthdayIs400(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/users/", map[string]any{
		"app_key":       "kiosk-app",
		"email":         "bd@example.org",
		"password":      "secret123",
		"birthday_year": "1990",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyMembershipFlow(t *testing.T) {
	f := newHandlerFixture(t)

	verifyToken, err := f.tokens.Create(
		auth.Application{Key: "kiosk-app", IsActive: true},
		auth.PurposeVerify,
		auth.TokenContext{PluginID: "membership.directory", Membership: map[string]any{
			"classname":     "membership.directory.Member",
			"member_number": "M-12",
		}},
	)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/users/verify-membership", map[string]any{
		"app_key":            "kiosk-app",
		"verification_token": verifyToken,
		"email":              "member@example.org",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	membership := body["data"].(map[string]any)["membership"].(map[string]any)
	require.Equal(t, "M-12", membership["member_number"])
	_, hasMarker := membership["classname"]
	require.False(t, hasMarker)

	meta := body["meta"].(map[string]any)
	data, err := f.tokens.Decode(meta["membership_token"].(string), auth.PurposeMembership, "kiosk-app")
	require.NoError(t, err)
	require.Equal(t, "membership.directory", data.Context.PluginID)
}

func TestVerifyMembershipHintValidation(t *testing.T) {
	f := newHandlerFixture(t)

	// last_name present requires first_name.
	rec := f.do(t, http.MethodPost, "/api/v1/users/verify-membership", map[string]any{
		"app_key":            "kiosk-app",
		"verification_token": "token",
		"last_name":          "Solo",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	fields := body["fields"].(map[string]any)
	require.Contains(t, fields, "first_name")
}

func TestProtectedRoutesRequireLoginToken(t *testing.T) {
	f := newHandlerFixture(t)
	profile := f.registerUser(t, "guarded@example.org", "secret123")

	path := "/api/v1/users/" + itoa64(profile.User.ID)
	rec := f.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	header := http.Header{"Authorization": {"Bearer " + f.loginToken(t)}}
	rec = f.do(t, http.MethodGet, path, nil, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUpdateProfilePartial(t *testing.T) {
	f := newHandlerFixture(t)
	profile := f.registerUser(t, "upd@example.org", "secret123")
	header := http.Header{"Authorization": {"Bearer " + f.loginToken(t)}}

	rec := f.do(t, http.MethodPut, "/api/v1/users/"+itoa64(profile.User.ID), map[string]any{
		"last_name": "Renamed",
	}, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	user := body["data"].(map[string]any)["user"].(map[string]any)
	require.Equal(t, "Test Renamed", user["name"])
}

func TestUpdatePasswordRequiresConfirmation(t *testing.T) {
	f := newHandlerFixture(t)
	profile := f.registerUser(t, "conf@example.org", "secret123")
	header := http.Header{"Authorization": {"Bearer " + f.loginToken(t)}}

	rec := f.do(t, http.MethodPut, "/api/v1/users/"+itoa64(profile.User.ID), map[string]any{
		"password": "changed123",
	}, header)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserBadgesListing(t *testing.T) {
	f := newHandlerFixture(t)
	profile := f.registerUser(t, "badges@example.org", "secret123")
	header := http.Header{"Authorization": {"Bearer " + f.loginToken(t)}}

	rec := f.do(t, http.MethodGet, "/api/v1/users/"+itoa64(profile.User.ID)+"/badges", nil, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	items := body["data"].([]any)
	require.Len(t, items, 1)
	pagination := body["meta"].(map[string]any)["pagination"].(map[string]any)
	require.Equal(t, float64(1), pagination["total"])
}

func TestProfileOptions(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/users/profile-options", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Contains(t, body["data"].(map[string]any), "gender")

	rec = f.do(t, http.MethodGet, "/api/v1/users/profile-options/states", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/users/profile-options/nonsense", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func itoa64(id int64) string {
	return strconv.FormatInt(id, 10)
}
