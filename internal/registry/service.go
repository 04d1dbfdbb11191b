package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"rollcall/internal/auth"
)

// ErrEmailTaken is returned when registration hits an existing email.
var ErrEmailTaken = errors.New("email already registered")

// ErrBadCredentials is returned for unknown email or wrong password.
var ErrBadCredentials = errors.New("invalid email or password")

// Service coordinates account registration and login.
type Service struct {
	repo *Repository
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a student account with a hashed password.
func (s *Service) Register(ctx context.Context, name, email, rollNumber, password string) (Profile, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return Profile{}, errors.New("name and email required")
	}
	if len(password) < 8 {
		return Profile{}, errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Profile{}, fmt.Errorf("hash password: %w", err)
	}
	p, err := s.repo.CreateProfile(ctx, Profile{Name: name, Email: email, RollNumber: rollNumber}, string(hash))
	if err != nil {
		if IsUniqueViolation(err) {
			return Profile{}, ErrEmailTaken
		}
		return Profile{}, err
	}
	if err := s.repo.AddRole(ctx, p.UserID, auth.RoleStudent); err != nil {
		return Profile{}, fmt.Errorf("grant role: %w", err)
	}
	return p, nil
}

// Authenticate verifies credentials and records the device fingerprint when
// one is supplied. Returns the profile and its effective role.
func (s *Service) Authenticate(ctx context.Context, email, password, fingerprint, deviceName string) (Profile, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	p, hash, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return Profile{}, "", err
	}
	if p == nil {
		return Profile{}, "", ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Profile{}, "", ErrBadCredentials
	}
	role, err := s.effectiveRole(ctx, p.UserID)
	if err != nil {
		return Profile{}, "", err
	}
	// Device bookkeeping never blocks a login.
	if err := s.repo.RecordDevice(ctx, p.UserID, fingerprint, deviceName); err != nil {
		log.Printf("device registration failed for user %s: %v", p.UserID, err)
	}
	return *p, role, nil
}

func (s *Service) effectiveRole(ctx context.Context, userID string) (string, error) {
	roles, err := s.repo.RolesFor(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, r := range roles {
		if r == auth.RoleAdmin {
			return auth.RoleAdmin, nil
		}
	}
	return auth.RoleStudent, nil
}
