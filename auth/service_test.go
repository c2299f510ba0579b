package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"stazama/rbac"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, staticRoles{"": rbac.RoleUser}, "test-secret")

	req := RegisterRequest{
		Email:    "Amina@Example.com",
		Password: "supersafe",
		FullName: "Amina Customer",
	}

	ctx := context.Background()
	principal, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if principal.Email != "amina@example.com" {
		t.Fatalf("expected normalized email, got %q", principal.Email)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.Principal.ID != principal.ID {
		t.Fatalf("login: expected principal id %q got %q", principal.ID, resp.Principal.ID)
	}
	if resp.Role != rbac.RoleUser {
		t.Fatalf("login: expected default role %s got %s", rbac.RoleUser, resp.Role)
	}
	if repo.signIns[principal.ID] == 0 {
		t.Fatal("login: expected sign-in to be recorded")
	}

	tokenUserID, tokenRole, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenUserID != principal.ID {
		t.Fatalf("verify token: expected %q got %q", principal.ID, tokenUserID)
	}
	if tokenRole != rbac.RoleUser {
		t.Fatalf("verify token: expected role %s got %s", rbac.RoleUser, tokenRole)
	}
}

func TestService_LoginStampsResolvedRole(t *testing.T) {
	repo := newFakeRepository()
	roles := staticRoles{}
	svc := NewService(repo, roles, "test-secret")

	principal, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "agent@example.com",
		Password: "strongpassword",
		FullName: "Alex Agent",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	roles[principal.ID] = rbac.RoleAgent

	resp, err := svc.Login(context.Background(), LoginRequest{Email: "agent@example.com", Password: "strongpassword"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	_, role, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if role != rbac.RoleAgent {
		t.Fatalf("expected token role %s got %s", rbac.RoleAgent, role)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, staticRoles{}, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "amina@example.com",
		Password: "short",
		FullName: "Amina Customer",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "",
		Password: "strongpassword",
		FullName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, staticRoles{}, "test-secret")

	req := RegisterRequest{
		Email:    "amina@example.com",
		Password: "strongpassword",
		FullName: "Amina Customer",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, staticRoles{}, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_UpsertProfileOwnership(t *testing.T) {
	repo := newFakeRepository()
	roles := staticRoles{"admin-1": rbac.RoleAdmin, "stranger": rbac.RoleUser}
	svc := NewService(repo, roles, "test-secret")

	principal, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "owner@example.com",
		Password: "strongpassword",
		FullName: "Olu Owner",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	profile := Profile{ID: principal.ID, FullName: "Olu O.", Email: principal.Email}

	if _, err := svc.UpsertProfile(context.Background(), "stranger", profile); !errors.Is(err, rbac.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for non-owner, got %v", err)
	}

	if _, err := svc.UpsertProfile(context.Background(), principal.ID, profile); err != nil {
		t.Fatalf("owner upsert: %v", err)
	}
	if _, err := svc.UpsertProfile(context.Background(), "admin-1", profile); err != nil {
		t.Fatalf("admin upsert: %v", err)
	}
}

// staticRoles resolves roles from a fixed map, defaulting to user.
type staticRoles map[string]rbac.Role

func (s staticRoles) ResolveRole(ctx context.Context, userID string) rbac.Role {
	if role, ok := s[userID]; ok {
		return role
	}
	return rbac.RoleUser
}

type fakeRepository struct {
	byEmail  map[string]Principal
	byID     map[string]Principal
	hashes   map[string]string
	profiles map[string]Profile
	signIns  map[string]int
	nextID   int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		byEmail:  make(map[string]Principal),
		byID:     make(map[string]Principal),
		hashes:   make(map[string]string),
		profiles: make(map[string]Profile),
		signIns:  make(map[string]int),
		nextID:   1,
	}
}

func (f *fakeRepository) CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error) {
	key := strings.ToLower(params.Email)
	if _, exists := f.byEmail[key]; exists {
		return Principal{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++

	p := Principal{
		ID:        id,
		Email:     params.Email,
		CreatedAt: time.Now().UTC(),
	}
	f.byEmail[key] = p
	f.byID[id] = p
	f.hashes[id] = params.PasswordHash
	f.profiles[id] = Profile{ID: id, FullName: params.FullName, Email: params.Email}

	return p, nil
}

func (f *fakeRepository) GetByEmail(ctx context.Context, email string) (Principal, string, error) {
	p, ok := f.byEmail[strings.ToLower(email)]
	if !ok {
		return Principal{}, "", ErrPrincipalNotFound
	}
	return p, f.hashes[p.ID], nil
}

func (f *fakeRepository) GetByID(ctx context.Context, userID string) (Principal, error) {
	p, ok := f.byID[userID]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func (f *fakeRepository) RecordSignIn(ctx context.Context, userID string) error {
	f.signIns[userID]++
	return nil
}

func (f *fakeRepository) GetProfile(ctx context.Context, userID string) (Profile, error) {
	profile, ok := f.profiles[userID]
	if !ok {
		return Profile{}, ErrPrincipalNotFound
	}
	return profile, nil
}

func (f *fakeRepository) UpsertProfile(ctx context.Context, profile Profile) (Profile, error) {
	profile.UpdatedAt = time.Now().UTC()
	f.profiles[profile.ID] = profile
	return profile, nil
}
