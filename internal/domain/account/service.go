package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/easybook/easybook/internal/platform/auth"
)

const (
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
	maxNameLength     = 100
)

type Service struct {
	repo     Repository
	logger   zerolog.Logger
	hashCost int
	// dummyHash is compared against on unknown emails so that login takes
	// the same time whether or not the account exists.
	dummyHash []byte
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return newService(repo, logger, bcrypt.DefaultCost)
}

func newService(repo Repository, logger zerolog.Logger, cost int) *Service {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("easybook-dummy-password"), cost)
	return &Service{
		repo:      repo,
		logger:    logger.With().Str("component", "account").Logger(),
		hashCost:  cost,
		dummyHash: dummy,
	}
}

// Register creates a client account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	return s.create(ctx, req, auth.RoleClient)
}

// CreateAdmin creates an administrator account. It is only reachable from
// the command line.
func (s *Service) CreateAdmin(ctx context.Context, req RegisterRequest) (*Account, error) {
	return s.create(ctx, req, auth.RoleAdmin)
}

func (s *Service) create(ctx context.Context, req RegisterRequest, role string) (*Account, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := validate(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a := &Account{
		ID:           uuid.New(),
		Email:        strings.ToLower(req.Email),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", a.ID.String()).Str("role", role).Msg("account created")
	return a, nil
}

func validate(req RegisterRequest) error {
	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != req.Email {
		return fmt.Errorf("%w: email %q is not a valid address", ErrInvalidAccount, req.Email)
	}
	if req.FirstName == "" || req.LastName == "" {
		return fmt.Errorf("%w: first_name and last_name are required", ErrInvalidAccount)
	}
	if len(req.FirstName) > maxNameLength || len(req.LastName) > maxNameLength {
		return fmt.Errorf("%w: names are limited to %d characters", ErrInvalidAccount, maxNameLength)
	}
	if n := len(req.Password); n < minPasswordLength || n > maxPasswordLength {
		return fmt.Errorf("%w: password must be %d to %d bytes", ErrInvalidAccount, minPasswordLength, maxPasswordLength)
	}
	return nil
}

// Authenticate returns the account for email if password matches.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	a, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrAccountNotFound) {
		bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn().Str("account_id", a.ID.String()).Msg("failed login")
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.GetByID(ctx, id)
}
