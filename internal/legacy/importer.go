package legacy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/atrium-loyalty/atrium-loyalty/internal/observability"
	"github.com/atrium-loyalty/atrium-loyalty/internal/users"
)

// Imported users receive this placeholder password. Precondition: an
// out-of-band password reset flow exists, so the placeholder is never a
// usable credential. See README.
const PlaceholderPassword = "!imported-account!"

// Row outcomes for a single legacy user.
const (
	OutcomeSaved     = "saved"
	OutcomeInvalid   = "invalid"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// RowResult records the outcome for one legacy row.
type RowResult struct {
	LegacyID int64  `json:"legacy_id"`
	Email    string `json:"email,omitempty"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
}

// Summary aggregates one import run.
type Summary struct {
	Cursor    int64       `json:"cursor"`
	Processed int         `json:"processed"`
	Saved     int         `json:"saved"`
	Invalid   int         `json:"invalid"`
	Duplicate int         `json:"duplicate"`
	Failed    int         `json:"failed"`
	Results   []RowResult `json:"results,omitempty"`
}

// TargetStore writes imported users into the platform database.
type TargetStore interface {
	// MaxUserID returns the import cursor: the highest local user id.
	MaxUserID(ctx context.Context) (int64, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	// ForceCreateUser writes the user and metadata directly, bypassing
	// the registration service and its validation.
	ForceCreateUser(ctx context.Context, user *users.User, meta *users.Metadata) error
}

// Importer copies legacy WordPress users into the platform in id order.
// Imported users keep their legacy ids, so the cursor (max local id) always
// moves past every row a run has seen, skipped rows included. Re-running
// converges: the cursor skips imported rows and duplicate emails are skipped
// again.
type Importer struct {
	source       SourceRepository
	target       TargetStore
	logger       *slog.Logger
	metrics      *observability.Metrics
	batchSize    int
	passwordHash string
	titleCaser   cases.Caser
}

// NewImporter constructs an Importer. batchSize caps rows per run.
func NewImporter(source SourceRepository, target TargetStore, logger *slog.Logger, metrics *observability.Metrics, batchSize int) (*Importer, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(PlaceholderPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("legacy: hash placeholder password: %w", err)
	}
	return &Importer{
		source:       source,
		target:       target,
		logger:       logger,
		metrics:      metrics,
		batchSize:    batchSize,
		passwordHash: string(hash),
		titleCaser:   cases.Title(language.English),
	}, nil
}

// Run executes one import batch at the configured batch size and returns
// the per-row results.
func (i *Importer) Run(ctx context.Context) (*Summary, error) {
	return i.RunBatch(ctx, i.batchSize)
}

// RunBatch executes one import batch capped at batchSize rows. A
// non-positive batchSize falls back to the configured default.
func (i *Importer) RunBatch(ctx context.Context, batchSize int) (*Summary, error) {
	if batchSize <= 0 {
		batchSize = i.batchSize
	}

	cursor, err := i.target.MaxUserID(ctx)
	if err != nil {
		return nil, fmt.Errorf("legacy: read cursor: %w", err)
	}

	rows, err := i.source.UsersAfter(ctx, cursor, batchSize)
	if err != nil {
		return nil, fmt.Errorf("legacy: read source: %w", err)
	}

	summary := &Summary{Cursor: cursor, Results: make([]RowResult, 0, len(rows))}
	for _, row := range rows {
		result := i.importRow(ctx, row)
		summary.Processed++
		summary.Results = append(summary.Results, result)
		switch result.Outcome {
		case OutcomeSaved:
			summary.Saved++
		case OutcomeInvalid:
			summary.Invalid++
		case OutcomeDuplicate:
			summary.Duplicate++
		case OutcomeFailed:
			summary.Failed++
		}
		i.metrics.ObserveImportRow(result.Outcome)
	}
	return summary, nil
}

func (i *Importer) importRow(ctx context.Context, row SourceUser) RowResult {
	result := RowResult{LegacyID: row.ID, Email: row.Email}

	if strings.TrimSpace(row.Email) == "" {
		i.logger.Warn("invalid account", slog.Int64("legacy_id", row.ID))
		result.Outcome = OutcomeInvalid
		return result
	}

	exists, err := i.target.EmailExists(ctx, row.Email)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		i.logger.Error("check duplicate", slog.String("email", row.Email), slog.Any("error", err))
		return result
	}
	if exists {
		i.logger.Info("duplicate account", slog.String("email", row.Email))
		result.Outcome = OutcomeDuplicate
		return result
	}

	user, meta := i.transform(row)
	if err := i.target.ForceCreateUser(ctx, user, meta); err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		i.logger.Error("import user", slog.String("email", row.Email), slog.Any("error", err))
		return result
	}
	result.Outcome = OutcomeSaved
	return result
}

// transform flattens the legacy metadata with explicit defaults so a row
// missing a key still produces a complete profile.
func (i *Importer) transform(row SourceUser) (*users.User, *users.Metadata) {
	value := func(key string) string { return row.Metadata[key] }

	first := i.titleCaser.String(strings.ToLower(strings.TrimSpace(value("first_name"))))
	last := i.titleCaser.String(strings.ToLower(strings.TrimSpace(value("last_name"))))

	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		name = row.Login
	}

	points, _ := strconv.ParseInt(value("_badgeos_points"), 10, 64)
	memberNumber := value("current_member_number")
	currentMember := value("current_member") == "1" || strings.EqualFold(value("current_member"), "true")
	emailOptin := value("email_optin") == "1" || strings.EqualFold(value("email_optin"), "true")

	// The legacy id and registration date travel with the user. Keeping the
	// id is what lets MaxUserID act as the import cursor.
	user := &users.User{
		ID:           row.ID,
		CreatedAt:    row.RegisteredAt,
		Username:     row.Login,
		Name:         name,
		Email:        row.Email,
		PasswordHash: i.passwordHash,
		Phone:        value("home_phone"),
		StreetAddr:   value("street_address"),
		City:         value("city"),
		State:        value("state"),
		Zip:          value("zip"),
		IsActive:     true,
	}
	meta := &users.Metadata{
		FirstName:           first,
		LastName:            last,
		Points:              points,
		EmailOptin:          emailOptin,
		CurrentMember:       currentMember,
		CurrentMemberNumber: memberNumber,
	}
	return user, meta
}
