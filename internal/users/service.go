package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetProfile(ctx context.Context, id int64) (*Profile, error)
	CreateWithMetadata(ctx context.Context, user *User, meta *Metadata) error
	UpdateProfile(ctx context.Context, profile *Profile) error
}

// Service handles user registration and profile maintenance.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// RegisterInput is the normalized registration payload. Optional fields
// default to empty strings so persistence never sees missing values.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	FirstName       string
	LastName        string
	Phone           string
	StreetAddr      string
	City            string
	State           string
	Zip             string
	BirthDate       *time.Time
	EmailOptin      bool
	Gender          string
	Race            string
	HouseholdIncome string
	Education       string
}

// Register creates a user with metadata. A duplicate email surfaces as a
// field-level validation error, matching the API error taxonomy.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Profile, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	username := input.Username
	if username == "" {
		username = input.Email
	}
	user := User{
		Username:     username,
		Name:         displayName(input.FirstName, input.LastName, input.Email),
		Email:        input.Email,
		PasswordHash: string(hash),
		Phone:        input.Phone,
		StreetAddr:   input.StreetAddr,
		City:         input.City,
		State:        input.State,
		Zip:          input.Zip,
	}
	meta := Metadata{
		FirstName:       input.FirstName,
		LastName:        input.LastName,
		BirthDate:       input.BirthDate,
		EmailOptin:      input.EmailOptin,
		Gender:          input.Gender,
		Race:            input.Race,
		HouseholdIncome: input.HouseholdIncome,
		Education:       input.Education,
	}

	if err := s.repo.CreateWithMetadata(ctx, &user, &meta); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, shared.NewValidationError("user data failed to validate", map[string]string{
				"email": "is already registered",
			})
		}
		return nil, err
	}
	return &Profile{User: user, Metadata: meta}, nil
}

// Get returns the profile for a user id.
func (s *Service) Get(ctx context.Context, id int64) (*Profile, error) {
	return s.repo.GetProfile(ctx, id)
}

// UpdateInput carries partial profile changes; nil pointers leave the stored
// value untouched.
type UpdateInput struct {
	FirstName       *string
	LastName        *string
	Email           *string
	Password        *string
	Phone           *string
	StreetAddr      *string
	City            *string
	State           *string
	Zip             *string
	BirthDate       *time.Time
	EmailOptin      *bool
	Gender          *string
	Race            *string
	HouseholdIncome *string
	Education       *string
}

// Update applies a partial update. When either name part changes, the
// display name is recomputed using the stored value for the missing half.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (*Profile, error) {
	profile, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.FirstName != nil || input.LastName != nil {
		first := profile.Metadata.FirstName
		last := profile.Metadata.LastName
		if input.FirstName != nil {
			first = *input.FirstName
		}
		if input.LastName != nil {
			last = *input.LastName
		}
		profile.Metadata.FirstName = first
		profile.Metadata.LastName = last
		profile.User.Name = displayName(first, last, profile.User.Email)
	}
	if input.Email != nil {
		profile.User.Email = *input.Email
	}
	if input.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		profile.User.PasswordHash = string(hash)
	}
	applyString(&profile.User.Phone, input.Phone)
	applyString(&profile.User.StreetAddr, input.StreetAddr)
	applyString(&profile.User.City, input.City)
	applyString(&profile.User.State, input.State)
	applyString(&profile.User.Zip, input.Zip)
	if input.BirthDate != nil {
		profile.Metadata.BirthDate = input.BirthDate
	}
	if input.EmailOptin != nil {
		profile.Metadata.EmailOptin = *input.EmailOptin
	}
	applyString(&profile.Metadata.Gender, input.Gender)
	applyString(&profile.Metadata.Race, input.Race)
	applyString(&profile.Metadata.HouseholdIncome, input.HouseholdIncome)
	applyString(&profile.Metadata.Education, input.Education)

	if err := s.repo.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func displayName(first, last, email string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name != "" {
		return name
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
