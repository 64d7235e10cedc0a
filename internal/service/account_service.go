package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"proposal/internal/auth"
	"proposal/internal/domain"
	"proposal/internal/repository"
)

const (
	// MinSecretLength is the minimum number of characters accepted at registration.
	MinSecretLength = 6
	// MaxIdentifierLength bounds identifiers to the longest valid email address.
	MaxIdentifierLength = 254
)

var (
	// ErrInvalidInput marks user-correctable request problems. Use errors.Is to detect it.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountExists is returned when attempting to register with an existing identifier.
	ErrAccountExists = errors.New("account already exists")
	// ErrUnauthorized indicates a missing, invalid or expired session.
	ErrUnauthorized = errors.New("unauthorized")
)

// InputError carries a client-facing message for an ErrInvalidInput failure.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func invalidInput(msg string) error {
	return &InputError{Message: msg}
}

// Session is the outcome of a successful registration or authentication.
type Session struct {
	Identity  domain.Identity
	Token     string
	ExpiresAt time.Time
}

// AccountService describes account and session lifecycle operations.
type AccountService interface {
	Register(ctx context.Context, identifier, secret string) (*Session, error)
	Authenticate(ctx context.Context, identifier, secret string) (*Session, error)
	CheckSession(ctx context.Context, token string) (domain.Identity, error)
}

type accountService struct {
	accounts repository.AccountRepository
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenManager
	validate *validator.Validate
}

func NewAccountService(accounts repository.AccountRepository, hasher *auth.PasswordHasher, tokens *auth.TokenManager) AccountService {
	return &accountService{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		validate: validator.New(),
	}
}

// NormalizeIdentifier returns the canonical stored form of an identifier.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func (s *accountService) Register(ctx context.Context, identifier, secret string) (*Session, error) {
	identifier = NormalizeIdentifier(identifier)

	if identifier == "" || secret == "" {
		return nil, invalidInput("identifier and secret are required")
	}
	if err := s.validateIdentifier(identifier); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(secret) < MinSecretLength {
		return nil, invalidInput(fmt.Sprintf("secret must be at least %d characters", MinSecretLength))
	}

	// cheap pre-check; the store's unique constraint settles concurrent registrations
	if _, err := s.accounts.FindByIdentifier(ctx, identifier); err == nil {
		return nil, ErrAccountExists
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		if auth.IsTooLong(err) {
			return nil, invalidInput("secret must be at most 72 bytes")
		}
		return nil, err
	}

	account, err := s.accounts.Create(ctx, identifier, hash)
	if err != nil {
		if errors.Is(err, repository.ErrAccountExists) {
			return nil, ErrAccountExists
		}
		return nil, err
	}

	return s.issue(account.Identity())
}

func (s *accountService) Authenticate(ctx context.Context, identifier, secret string) (*Session, error) {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" || secret == "" {
		return nil, invalidInput("identifier and secret are required")
	}

	account, err := s.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(secret, account.SecretHash) {
		return nil, ErrInvalidCredentials
	}

	return s.issue(account.Identity())
}

func (s *accountService) CheckSession(_ context.Context, token string) (domain.Identity, error) {
	identity, err := s.tokens.Verify(token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return identity, nil
}

func (s *accountService) issue(identity domain.Identity) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(identity)
	if err != nil {
		return nil, err
	}
	return &Session{
		Identity:  identity,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *accountService) validateIdentifier(identifier string) error {
	if utf8.RuneCountInString(identifier) > MaxIdentifierLength {
		return invalidInput(fmt.Sprintf("identifier must be at most %d characters", MaxIdentifierLength))
	}
	if err := s.validate.Var(identifier, "email"); err != nil {
		return invalidInput("identifier must be a valid email address")
	}
	return nil
}
