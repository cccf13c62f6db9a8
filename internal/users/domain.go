package users

import "time"

// User is a platform account. The display name is derived from the metadata
// name parts when they are present.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Phone        string    `json:"phone"`
	StreetAddr   string    `json:"street_addr"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	Zip          string    `json:"zip"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Metadata holds the 1:1 profile extension of a user.
type Metadata struct {
	UserID              int64      `json:"-"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	BirthDate           *time.Time `json:"birth_date,omitempty"`
	EmailOptin          bool       `json:"email_optin"`
	Gender              string     `json:"gender,omitempty"`
	Race                string     `json:"race,omitempty"`
	HouseholdIncome     string     `json:"household_income,omitempty"`
	Education           string     `json:"education,omitempty"`
	Points              int64      `json:"points"`
	CurrentMember       bool       `json:"current_member"`
	CurrentMemberNumber string     `json:"current_member_number,omitempty"`
}

// Profile bundles a user with its metadata.
type Profile struct {
	User     User     `json:"user"`
	Metadata Metadata `json:"profile"`
}
