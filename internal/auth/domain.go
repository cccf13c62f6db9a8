package auth

// TokenPurpose names the single operation a token authorizes. Decoding a
// token with the wrong purpose always fails, which prevents replaying a
// verification token as a login token and vice versa.
type TokenPurpose string

const (
	// PurposeLogin authorizes regular API access for a resolved user.
	PurposeLogin TokenPurpose = "login"
	// PurposeVerify authorizes the membership verification step.
	PurposeVerify TokenPurpose = "verify"
	// PurposeMembership authorizes binding a verified membership at registration.
	PurposeMembership TokenPurpose = "membership"
)

// Application is a per-client integration credential. Inactive or unknown
// keys invalidate any operation requiring authentication.
type Application struct {
	ID       int64
	Key      string
	Name     string
	IsActive bool
}

// Credentials is the ephemeral request-scoped login payload. NoPassword marks
// a card (barcode) login where no password check is performed.
type Credentials struct {
	Login      string
	Password   string
	AppKey     string
	NoPassword bool
}

// TokenContext is the opaque context embedded in verify and membership tokens.
type TokenContext struct {
	PluginID   string         `json:"pluginId,omitempty"`
	Membership map[string]any `json:"membership,omitempty"`
}

// TokenData is the decoded claim set of an API token.
type TokenData struct {
	Audience string
	Purpose  TokenPurpose
	Context  TokenContext
}

// Identity is the minimal local account view the auth flow needs.
type Identity struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	IsActive     bool
}

// MembershipHints are the identity fields surfaced to a client that still
// has to verify an externally-owned membership.
type MembershipHints struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// MembershipMatch describes an external membership found for credentials
// that resolved to no local user.
type MembershipMatch struct {
	PluginID string
	Snapshot map[string]any
	Hints    MembershipHints
}

// AttemptResult is the outcome of Manager.Attempt. Exactly one of User or
// Membership is set; Token carries the matching purpose.
type AttemptResult struct {
	User       *Identity
	Membership *MembershipMatch
	Token      string
}
