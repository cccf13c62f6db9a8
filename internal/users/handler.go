package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atrium-loyalty/atrium-loyalty/internal/auth"
	"github.com/atrium-loyalty/atrium-loyalty/internal/catalog"
	"github.com/atrium-loyalty/atrium-loyalty/internal/observability"
	"github.com/atrium-loyalty/atrium-loyalty/internal/platform/httpx"
	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

// Notifier delivers account lifecycle notifications. Implementations
// enqueue rather than send inline; a failure never blocks the request.
type Notifier interface {
	SendWelcome(ctx context.Context, email, name string) error
}

// Handler wires the public user API: login, card login, membership
// verification, registration and profile maintenance.
type Handler struct {
	logger      *slog.Logger
	manager     *auth.Manager
	service     *Service
	catalog     *catalog.Service
	audit       *shared.AuditLogger
	metrics     *observability.Metrics
	notifier    Notifier
	validate    *validator.Validate
	authLimiter func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, manager *auth.Manager, service *Service, catalogService *catalog.Service, audit *shared.AuditLogger, metrics *observability.Metrics, notifier Notifier, authLimiter func(http.Handler) http.Handler) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		logger:      logger,
		manager:     manager,
		service:     service,
		catalog:     catalogService,
		audit:       audit,
		metrics:     metrics,
		notifier:    notifier,
		validate:    validate,
		authLimiter: authLimiter,
	}
}

// MountRoutes registers user routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.authLimiter != nil {
			r.Use(h.authLimiter)
		}
		r.Post("/login", h.login)
		r.Post("/login/card", h.loginByCard)
		r.Post("/verify-membership", h.verifyMembership)
		r.Post("/", h.register)
	})

	r.Get("/profile-options", h.profileOptions)
	r.Get("/profile-options/{field}", h.profileOptions)

	r.Group(func(r chi.Router) {
		r.Use(h.requireLoginToken)
		r.Get("/{id}", h.show)
		r.Put("/{id}", h.update)
		r.Get("/{id}/badges", h.userBadges)
		r.Get("/{id}/activities", h.userActivities)
		r.Get("/{id}/rewards", h.userRewards)
	})
}

// requireLoginToken guards protected endpoints with a login-purpose bearer
// token whose audience resolves to an active application.
func (h *Handler) requireLoginToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		data, err := h.manager.Tokens().Decode(raw, auth.PurposeLogin, "")
		if err != nil {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		if _, err := h.manager.VerifyApplication(r.Context(), data.Audience); err != nil {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Login    string `json:"login"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	AppKey   string `json:"app_key" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "invalid JSON body", nil)
		return
	}
	if fields := h.validationFields(req); fields != nil {
		httpx.ValidationProblem(w, "user credentials failed to validate", fields)
		return
	}
	login := req.Login
	if login == "" {
		login = req.Username
	}
	if login == "" {
		login = req.Email
	}
	h.authenticate(w, r, auth.Credentials{
		Login:    login,
		Password: req.Password,
		AppKey:   req.AppKey,
	})
}

type cardLoginRequest struct {
	Barcode string `json:"barcode" validate:"required"`
	AppKey  string `json:"app_key" validate:"required"`
}

func (h *Handler) loginByCard(w http.ResponseWriter, r *http.Request) {
	var req cardLoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "invalid JSON body", nil)
		return
	}
	if fields := h.validationFields(req); fields != nil {
		httpx.ValidationProblem(w, "user credentials failed to validate", fields)
		return
	}
	h.authenticate(w, r, auth.Credentials{
		Login:      req.Barcode,
		AppKey:     req.AppKey,
		NoPassword: true,
	})
}

// authenticate is shared by the password and card login endpoints.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, creds auth.Credentials) {
	result, err := h.manager.Attempt(r.Context(), creds)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "user not found")
			return
		}
		httpx.RespondError(w, err)
		return
	}

	if result.User != nil {
		profile, err := h.service.Get(r.Context(), result.User.ID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		h.recordAudit(r, result.User.ID, creds.AppKey, "user.login", nil)
		h.metrics.ObserveTokenIssued(string(auth.PurposeLogin))
		httpx.Item(w, http.StatusOK, profile, map[string]any{"token": result.Token})
		return
	}

	// Known external membership without a local account: the client must
	// run the verification flow before a profile can be created.
	h.metrics.ObserveTokenIssued(string(auth.PurposeVerify))
	httpx.Item(w, http.StatusAccepted, map[string]any{
		"message": "This user has a membership outside of the loyalty platform. Verify the membership to create a profile.",
		"hints":   result.Membership.Hints,
	}, map[string]any{"verification_token": result.Token})
}

type verifyMembershipRequest struct {
	AppKey            string `json:"app_key" validate:"required"`
	VerificationToken string `json:"verification_token" validate:"required"`
	FirstName         string `json:"first_name" validate:"required_with=LastName,omitempty,min=2"`
	LastName          string `json:"last_name" validate:"required_with=FirstName,omitempty,min=2"`
	Email             string `json:"email" validate:"required_without_all=FirstName LastName,omitempty,email,min=2,max=64"`
}

func (h *Handler) verifyMembership(w http.ResponseWriter, r *http.Request) {
	var req verifyMembershipRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "invalid JSON body", nil)
		return
	}
	if fields := h.validationFields(req); fields != nil {
		httpx.ValidationProblem(w, "invalid payload", fields)
		return
	}

	snapshot, membershipToken, err := h.manager.VerifyMembership(r.Context(), req.AppKey, req.VerificationToken, auth.MembershipHints{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	})
	if err != nil {
		if errors.Is(err, shared.ErrUnauthorized) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "membership verification failed")
			return
		}
		httpx.RespondError(w, err)
		return
	}

	h.metrics.ObserveTokenIssued(string(auth.PurposeMembership))
	httpx.Item(w, http.StatusOK, map[string]any{"membership": snapshot}, map[string]any{"membership_token": membershipToken})
}

type registerRequest struct {
	AppKey               string `json:"app_key" validate:"required"`
	Username             string `json:"username"`
	Email                string `json:"email" validate:"required,email,min=2,max=64"`
	Password             string `json:"password" validate:"required,min=6"`
	PasswordConfirmation string `json:"password_confirmation" validate:"omitempty,eqfield=Password"`
	FirstName            string `json:"first_name" validate:"omitempty,min=2"`
	LastName             string `json:"last_name" validate:"omitempty,min=2"`
	Phone                string `json:"phone"`
	StreetAddr           string `json:"street_addr"`
	City                 string `json:"city"`
	State                string `json:"state"`
	Zip                  string `json:"zip"`
	BirthdayYear         string `json:"birthday_year" validate:"required_with=BirthdayMonth BirthdayDay,omitempty,alphanum,min=4"`
	BirthdayMonth        string `json:"birthday_month" validate:"required_with=BirthdayYear BirthdayDay,omitempty,alphanum,min=2"`
	BirthdayDay          string `json:"birthday_day" validate:"required_with=BirthdayYear BirthdayMonth,omitempty,alphanum,min=2"`
	EmailOptin           bool   `json:"email_optin"`
	Gender               string `json:"gender"`
	Race                 string `json:"race"`
	HouseholdIncome      string `json:"household_income"`
	Education            string `json:"education"`
	MembershipToken      string `json:"membership_token"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "invalid JSON body", nil)
		return
	}
	if fields := h.validationFields(req); fields != nil {
		httpx.ValidationProblem(w, "user data failed to validate", fields)
		return
	}

	if _, err := h.manager.VerifyApplication(r.Context(), req.AppKey); err != nil {
		httpx.RespondError(w, err)
		return
	}

	birthDate, err := combineBirthday(req.BirthdayYear, req.BirthdayMonth, req.BirthdayDay)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	// The membership token is checked before any write so a stale or
	// cross-application token cannot leave a half-registered user behind.
	var tokenContext *auth.TokenContext
	if req.MembershipToken != "" {
		tc, err := h.manager.ValidateMembershipToken(req.AppKey, req.MembershipToken)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		tokenContext = &tc
	}

	profile, err := h.service.Register(r.Context(), RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Phone:           req.Phone,
		StreetAddr:      req.StreetAddr,
		City:            req.City,
		State:           req.State,
		Zip:             req.Zip,
		BirthDate:       birthDate,
		EmailOptin:      req.EmailOptin,
		Gender:          req.Gender,
		Race:            req.Race,
		HouseholdIncome: req.HouseholdIncome,
		Education:       req.Education,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	meta := map[string]any{}
	if tokenContext != nil {
		bound := true
		if err := h.manager.BindMembership(r.Context(), tokenContext.PluginID, profile.User.ID, tokenContext.Membership); err != nil {
			// The user exists either way; surface the binding outcome
			// instead of hiding it.
			h.logger.Warn("bind membership after registration",
				slog.Int64("user_id", profile.User.ID),
				slog.String("plugin_id", tokenContext.PluginID),
				slog.Any("error", err))
			bound = false
		}
		meta["membership_bound"] = bound
	}

	login := req.Username
	if login == "" {
		login = req.Email
	}
	result, err := h.manager.Attempt(r.Context(), auth.Credentials{
		Login:    login,
		Password: req.Password,
		AppKey:   req.AppKey,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	meta["token"] = result.Token

	h.recordAudit(r, profile.User.ID, req.AppKey, "user.register", map[string]any{"membership": tokenContext != nil})
	if h.notifier != nil {
		if err := h.notifier.SendWelcome(r.Context(), profile.User.Email, profile.User.Name); err != nil {
			h.logger.Warn("enqueue welcome email", slog.String("email", profile.User.Email), slog.Any("error", err))
		}
	}
	h.metrics.ObserveTokenIssued(string(auth.PurposeLogin))
	httpx.Item(w, http.StatusCreated, profile, meta)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	profile, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, profile, nil)
}

type updateRequest struct {
	FirstName            *string `json:"first_name" validate:"omitempty,min=2"`
	LastName             *string `json:"last_name" validate:"omitempty,min=2"`
	Email                *string `json:"email" validate:"omitempty,email,min=2,max=64"`
	Password             *string `json:"password" validate:"omitempty,min=6"`
	PasswordConfirmation *string `json:"password_confirmation" validate:"omitempty,min=6"`
	Phone                *string `json:"phone"`
	StreetAddr           *string `json:"street_addr"`
	City                 *string `json:"city"`
	State                *string `json:"state"`
	Zip                  *string `json:"zip"`
	BirthdayYear         *string `json:"birthday_year"`
	BirthdayMonth        *string `json:"birthday_month"`
	BirthdayDay          *string `json:"birthday_day"`
	EmailOptin           *bool   `json:"email_optin"`
	Gender               *string `json:"gender"`
	Race                 *string `json:"race"`
	HouseholdIncome      *string `json:"household_income"`
	Education            *string `json:"education"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "invalid JSON body", nil)
		return
	}
	if fields := h.validationFields(req); fields != nil {
		httpx.ValidationProblem(w, "user data failed to validate", fields)
		return
	}
	if req.Password != nil {
		if req.PasswordConfirmation == nil || *req.Password != *req.PasswordConfirmation {
			httpx.ValidationProblem(w, "user data failed to validate", map[string]string{
				"password_confirmation": "must match password",
			})
			return
		}
	}

	input := UpdateInput{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		Password:        req.Password,
		Phone:           req.Phone,
		StreetAddr:      req.StreetAddr,
		City:            req.City,
		State:           req.State,
		Zip:             req.Zip,
		EmailOptin:      req.EmailOptin,
		Gender:          req.Gender,
		Race:            req.Race,
		HouseholdIncome: req.HouseholdIncome,
		Education:       req.Education,
	}
	if req.BirthdayYear != nil && req.BirthdayMonth != nil && req.BirthdayDay != nil {
		birthDate, err := combineBirthday(*req.BirthdayYear, *req.BirthdayMonth, *req.BirthdayDay)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		input.BirthDate = birthDate
	}

	profile, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, profile, nil)
}

func (h *Handler) userBadges(w http.ResponseWriter, r *http.Request) {
	h.userRelation(w, r, func(ctx context.Context, userID int64, page, perPage int) (any, shared.Pagination, error) {
		return h.catalog.UserBadges(ctx, userID, page, perPage)
	})
}

func (h *Handler) userActivities(w http.ResponseWriter, r *http.Request) {
	h.userRelation(w, r, func(ctx context.Context, userID int64, page, perPage int) (any, shared.Pagination, error) {
		return h.catalog.UserActivities(ctx, userID, page, perPage)
	})
}

func (h *Handler) userRewards(w http.ResponseWriter, r *http.Request) {
	h.userRelation(w, r, func(ctx context.Context, userID int64, page, perPage int) (any, shared.Pagination, error) {
		return h.catalog.UserRewards(ctx, userID, page, perPage)
	})
}

type relationFunc func(ctx context.Context, userID int64, page, perPage int) (any, shared.Pagination, error)

func (h *Handler) profileOptions(w http.ResponseWriter, r *http.Request) {
	field := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "field")))
	if field == "" {
		httpx.Item(w, http.StatusOK, profileOptions, nil)
		return
	}
	opts, ok := profileOptions[field]
	if !ok {
		valid := make([]string, 0, len(profileOptions))
		for name := range profileOptions {
			valid = append(valid, name)
		}
		httpx.ValidationProblem(w, "unknown profile option field", map[string]string{
			"field": "valid fields are: " + strings.Join(valid, ", "),
		})
		return
	}
	httpx.Item(w, http.StatusOK, map[string][]string{field: opts}, nil)
}

// userRelation serves the paginated earned/completed/redeemed listings.
func (h *Handler) userRelation(w http.ResponseWriter, r *http.Request, list relationFunc) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Get(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, perPage := shared.PageFromRequest(r)
	items, pagination, err := list(r.Context(), id, page, perPage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, items, map[string]any{"pagination": pagination})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "user not found")
		return 0, false
	}
	return id, true
}

// validationFields runs the validator and flattens failures into a
// field→message map keyed by JSON names.
func (h *Handler) validationFields(payload any) map[string]string {
	err := h.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"payload": err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	for _, fieldErr := range verrs {
		fields[fieldErr.Field()] = validationMessage(fieldErr)
	}
	return fields
}

func validationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "required_with":
		return "is required when " + strings.ToLower(err.Param()) + " is present"
	case "required_without_all":
		return "is required when first_name or last_name is not present"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + err.Param() + " characters"
	case "max":
		return "must be at most " + err.Param() + " characters"
	case "alphanum":
		return "must be alphanumeric"
	case "eqfield":
		return "must match " + strings.ToLower(err.Param())
	default:
		return "is invalid"
	}
}

// combineBirthday folds the three submitted parts into a single date. All
// parts must be present together; partial input is a validation failure.
func combineBirthday(year, month, day string) (*time.Time, error) {
	if year == "" && month == "" && day == "" {
		return nil, nil
	}
	if year == "" || month == "" || day == "" {
		return nil, shared.NewValidationError("user data failed to validate", map[string]string{
			"birthday_year": "birthday requires year, month and day together",
		})
	}
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil || m < 1 || m > 12 || d < 1 || d > 31 {
		return nil, shared.NewValidationError("user data failed to validate", map[string]string{
			"birthday_year": "birthday parts must form a valid date",
		})
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || t.Month() != time.Month(m) || t.Day() != d {
		return nil, shared.NewValidationError("user data failed to validate", map[string]string{
			"birthday_day": "birthday parts must form a valid date",
		})
	}
	return &t, nil
}

func (h *Handler) recordAudit(r *http.Request, userID int64, appKey, action string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(r.Context(), shared.AuditLog{UserID: userID, AppKey: appKey, Action: action, Meta: meta}); err != nil {
		h.logger.Warn("record audit log", slog.String("action", action), slog.Any("error", err))
	}
}
