package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

type profileRow struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	IdentityID    string     `bun:"identity_id,pk"`
	Email         string     `bun:"email,notnull"`
	DisplayName   string     `bun:"display_name"`
	PhotoURL      string     `bun:"photo_url"`
	Role          string     `bun:"role,notnull"`
	AccountStatus string     `bun:"account_status,notnull"`
	CreatedAt     time.Time  `bun:"created_at,notnull"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull"`
	LastLoginAt   *time.Time `bun:"last_login_at"`
}

func rowFromProfile(p *auth.Profile) *profileRow {
	return &profileRow{
		IdentityID:    p.IdentityID,
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		PhotoURL:      p.PhotoURL,
		Role:          string(p.Role),
		AccountStatus: string(p.AccountStatus),
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
		LastLoginAt:   p.LastLoginAt,
	}
}

func (r *profileRow) toProfile() *auth.Profile {
	return &auth.Profile{
		IdentityID:    r.IdentityID,
		Email:         r.Email,
		DisplayName:   r.DisplayName,
		PhotoURL:      r.PhotoURL,
		Role:          auth.Role(r.Role),
		AccountStatus: auth.AccountStatus(r.AccountStatus),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		LastLoginAt:   r.LastLoginAt,
	}
}

// ProfileRepository implements auth.ProfileStore using bun.
type ProfileRepository struct {
	db *bun.DB
}

// NewProfileRepository creates a bun-backed profile repository.
func NewProfileRepository(db *bun.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetProfile retrieves a profile by identity ID.
func (r *ProfileRepository) GetProfile(ctx context.Context, identityID string) (*auth.Profile, error) {
	row := new(profileRow)
	err := r.db.NewSelect().
		Model(row).
		Where("identity_id = ?", identityID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile %s: %w", identityID, err)
	}
	return row.toProfile(), nil
}

// CreateProfile inserts a new profile.
func (r *ProfileRepository) CreateProfile(ctx context.Context, profile *auth.Profile) error {
	_, err := r.db.NewInsert().
		Model(rowFromProfile(profile)).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrProfileExists
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// UpdateProfile updates an existing profile.
func (r *ProfileRepository) UpdateProfile(ctx context.Context, profile *auth.Profile) error {
	result, err := r.db.NewUpdate().
		Model(rowFromProfile(profile)).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return auth.ErrProfileNotFound
	}
	return nil
}

// ListProfiles returns all profiles ordered by email.
func (r *ProfileRepository) ListProfiles(ctx context.Context) ([]auth.Profile, error) {
	var rows []profileRow
	err := r.db.NewSelect().
		Model(&rows).
		Order("email ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	out := make([]auth.Profile, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toProfile())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint")
}

// Compile-time interface verification.
var _ auth.ProfileStore = (*ProfileRepository)(nil)
