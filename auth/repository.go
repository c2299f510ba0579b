package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrPrincipalNotFound signals that the user does not exist.
	ErrPrincipalNotFound = errors.New("auth: principal not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for authentication and profiles.
type Repository interface {
	CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error)
	GetByEmail(ctx context.Context, email string) (Principal, string, error)
	GetByID(ctx context.Context, userID string) (Principal, error)
	RecordSignIn(ctx context.Context, userID string) error
	GetProfile(ctx context.Context, userID string) (Profile, error)
	UpsertProfile(ctx context.Context, profile Profile) (Profile, error)
}

// CreatePrincipalParams contains write parameters for account provisioning.
type CreatePrincipalParams struct {
	Email        string
	FullName     string
	PasswordHash string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreatePrincipal provisions the account, its profile, and the default user
// role row via the create_user_with_role procedure inside one transaction.
func (r *PGRepository) CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Principal{}, fmt.Errorf("auth: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, email_verified, last_sign_in, created_at
	`

	var p Principal
	if err := tx.QueryRow(ctx, insertSQL, params.Email, params.PasswordHash).Scan(
		&p.ID, &p.Email, &p.EmailVerified, &p.LastSignIn, &p.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Principal{}, ErrDuplicateEmail
		}
		return Principal{}, fmt.Errorf("auth: create principal: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT create_user_with_role($1, 'user')`, p.ID); err != nil {
		return Principal{}, fmt.Errorf("auth: provision default role: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO profiles (id, full_name, email)
		VALUES ($1, $2, $3)
	`, p.ID, params.FullName, params.Email); err != nil {
		return Principal{}, fmt.Errorf("auth: create profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Principal{}, fmt.Errorf("auth: commit provisioning: %w", err)
	}

	return p, nil
}

// GetByEmail retrieves a principal and its password hash by email address.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (Principal, string, error) {
	const selectSQL = `
		SELECT id, email, email_verified, last_sign_in, created_at, password_hash
		FROM users
		WHERE email = $1
	`

	var (
		p    Principal
		hash string
	)
	err := r.pool.QueryRow(ctx, selectSQL, email).Scan(
		&p.ID, &p.Email, &p.EmailVerified, &p.LastSignIn, &p.CreatedAt, &hash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, "", ErrPrincipalNotFound
		}
		return Principal{}, "", fmt.Errorf("auth: get principal by email: %w", err)
	}

	return p, hash, nil
}

// GetByID retrieves a principal by ID.
func (r *PGRepository) GetByID(ctx context.Context, userID string) (Principal, error) {
	const selectSQL = `
		SELECT id, email, email_verified, last_sign_in, created_at
		FROM users
		WHERE id = $1
	`

	var p Principal
	err := r.pool.QueryRow(ctx, selectSQL, userID).Scan(
		&p.ID, &p.Email, &p.EmailVerified, &p.LastSignIn, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("auth: get principal by id: %w", err)
	}

	return p, nil
}

// RecordSignIn stamps the last sign-in time.
func (r *PGRepository) RecordSignIn(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE users SET last_sign_in = now() WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("auth: record sign in: %w", err)
	}
	return nil
}

// GetProfile retrieves the profile owned by the given principal.
func (r *PGRepository) GetProfile(ctx context.Context, userID string) (Profile, error) {
	const selectSQL = `
		SELECT id, full_name, phone, address, avatar_url, email, updated_at
		FROM profiles
		WHERE id = $1
	`

	var profile Profile
	err := r.pool.QueryRow(ctx, selectSQL, userID).Scan(
		&profile.ID, &profile.FullName, &profile.Phone, &profile.Address,
		&profile.AvatarURL, &profile.Email, &profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrPrincipalNotFound
		}
		return Profile{}, fmt.Errorf("auth: get profile: %w", err)
	}

	return profile, nil
}

// UpsertProfile writes the profile row, creating it if missing.
func (r *PGRepository) UpsertProfile(ctx context.Context, profile Profile) (Profile, error) {
	const upsertSQL = `
		INSERT INTO profiles (id, full_name, phone, address, avatar_url, email)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    phone = EXCLUDED.phone,
		    address = EXCLUDED.address,
		    avatar_url = EXCLUDED.avatar_url,
		    email = EXCLUDED.email,
		    updated_at = now()
		RETURNING id, full_name, phone, address, avatar_url, email, updated_at
	`

	var out Profile
	err := r.pool.QueryRow(ctx, upsertSQL,
		profile.ID, profile.FullName, profile.Phone, profile.Address, profile.AvatarURL, profile.Email,
	).Scan(&out.ID, &out.FullName, &out.Phone, &out.Address, &out.AvatarURL, &out.Email, &out.UpdatedAt)
	if err != nil {
		return Profile{}, fmt.Errorf("auth: upsert profile: %w", err)
	}

	return out, nil
}
