package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"stazama/rbac"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

// RoleResolver is the subset of the rbac resolver the auth service needs to
// stamp roles into tokens.
type RoleResolver interface {
	ResolveRole(ctx context.Context, userID string) rbac.Role
}

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	roles     RoleResolver
	jwtSecret []byte
	tokenTTL  time.Duration
}

// LoginResult bundles the token and principal returned after a successful login.
type LoginResult struct {
	Token     string
	Principal Principal
	Role      rbac.Role
}

// NewService creates a new authentication service.
func NewService(repo Repository, roles RoleResolver, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		roles:     roles,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
	}
}

// Register provisions a new account with the default user role.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || fullName == "" {
		return nil, fmt.Errorf("auth: email and full_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	principal, err := s.repo.CreatePrincipal(ctx, CreatePrincipalParams{
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(passwordHash),
	})
	if err != nil {
		return nil, err
	}

	return &principal, nil
}

// Login authenticates a principal and returns a JWT token carrying its role.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	principal, hash, err := s.repo.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	// Role lookup fails closed to user inside the resolver; a metadata
	// hiccup must not block sign-in.
	role := s.roles.ResolveRole(ctx, principal.ID)

	token, err := s.generateToken(principal.ID, role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	if err := s.repo.RecordSignIn(ctx, principal.ID); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		Token:     token,
		Principal: principal,
		Role:      role,
	}, nil
}

// GetPrincipal retrieves principal information by ID.
func (s *Service) GetPrincipal(ctx context.Context, userID string) (*Principal, error) {
	principal, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &principal, nil
}

// GetProfile returns the profile owned by the principal.
func (s *Service) GetProfile(ctx context.Context, userID string) (Profile, error) {
	return s.repo.GetProfile(ctx, userID)
}

// UpsertProfile writes a profile. Only the owner or an admin may write it.
func (s *Service) UpsertProfile(ctx context.Context, callerID string, profile Profile) (Profile, error) {
	if callerID != profile.ID && s.roles.ResolveRole(ctx, callerID) != rbac.RoleAdmin {
		return Profile{}, rbac.ErrAccessDenied
	}
	return s.repo.UpsertProfile(ctx, profile)
}

// VerifyToken validates a JWT token and returns the principal id and role.
func (s *Service) VerifyToken(tokenString string) (string, rbac.Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("auth: invalid token")
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return "", "", fmt.Errorf("auth: invalid subject in token")
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return "", "", fmt.Errorf("auth: invalid role in token")
	}

	// Unknown role strings collapse to user rather than failing the session.
	return userID, rbac.ParseRole(roleStr), nil
}

// generateToken creates a signed JWT for the principal.
func (s *Service) generateToken(userID string, role rbac.Role) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  now.Add(s.tokenTTL).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
