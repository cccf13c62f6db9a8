package users

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
)

type memoryRepo struct {
	nextID   int64
	profiles map[int64]*Profile
	emails   map[string]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{profiles: map[int64]*Profile{}, emails: map[string]bool{}}
}

func (m *memoryRepo) GetProfile(_ context.Context, id int64) (*Profile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *memoryRepo) CreateWithMetadata(_ context.Context, user *User, meta *Metadata) error {
	if m.emails[user.Email] {
		return ErrEmailTaken
	}
	m.nextID++
	user.ID = m.nextID
	user.IsActive = true
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	meta.UserID = user.ID
	m.emails[user.Email] = true
	m.profiles[user.ID] = &Profile{User: *user, Metadata: *meta}
	return nil
}

func (m *memoryRepo) UpdateProfile(_ context.Context, profile *Profile) error {
	m.profiles[profile.User.ID] = profile
	return nil
}

func TestRegisterHashesPasswordAndDerivesName(t *testing.T) {
	svc := NewService(newMemoryRepo())

	profile, err := svc.Register(context.Background(), RegisterInput{
		Email:     "grace@example.org",
		Password:  "correct horse",
		FirstName: "Grace",
		LastName:  "Hopper",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if profile.User.Username != "grace@example.org" {
		t.Fatalf("username = %q, want email fallback", profile.User.Username)
	}
	if profile.User.Name != "Grace Hopper" {
		t.Fatalf("name = %q", profile.User.Name)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.User.PasswordHash), []byte("correct horse")); err != nil {
		t.Fatalf("password not hashed: %v", err)
	}
}

func TestRegisterNameFallsBackToEmailLocalPart(t *testing.T) {
	svc := NewService(newMemoryRepo())

	profile, err := svc.Register(context.Background(), RegisterInput{
		Email:    "lonely@example.org",
		Password: "secret123",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if profile.User.Name != "lonely" {
		t.Fatalf("name = %q, want local part", profile.User.Name)
	}
}

func TestRegisterDuplicateEmailIsValidationError(t *testing.T) {
	svc := NewService(newMemoryRepo())

	if _, err := svc.Register(context.Background(), RegisterInput{Email: "dup@example.org", Password: "secret123"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := svc.Register(context.Background(), RegisterInput{Email: "dup@example.org", Password: "secret123"})
	ve, ok := shared.AsValidationError(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ve.Fields["email"] == "" {
		t.Fatalf("expected email field message, got %v", ve.Fields)
	}
}

func TestUpdateRecomputesNameWithStoredHalf(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	profile, err := svc.Register(context.Background(), RegisterInput{
		Email:     "ada@example.org",
		Password:  "secret123",
		FirstName: "Ada",
		LastName:  "Byron",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	last := "Lovelace"
	updated, err := svc.Update(context.Background(), profile.User.ID, UpdateInput{LastName: &last})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.User.Name != "Ada Lovelace" {
		t.Fatalf("name = %q", updated.User.Name)
	}
	if updated.Metadata.FirstName != "Ada" {
		t.Fatalf("first name lost: %q", updated.Metadata.FirstName)
	}
}

func TestUpdateRehashesPassword(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	profile, err := svc.Register(context.Background(), RegisterInput{Email: "p@example.org", Password: "original1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	next := "changed22"
	updated, err := svc.Update(context.Background(), profile.User.ID, UpdateInput{Password: &next})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(updated.User.PasswordHash), []byte(next)); err != nil {
		t.Fatalf("new password not stored: %v", err)
	}
}

func TestUpdateUnknownUser(t *testing.T) {
	svc := NewService(newMemoryRepo())
	email := "x@example.org"
	if _, err := svc.Update(context.Background(), 42, UpdateInput{Email: &email}); err != shared.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
