package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lgulliver/intray/pkg/config"
	"github.com/lgulliver/intray/pkg/types"
	"github.com/lgulliver/intray/pkg/utils"
	"github.com/rs/zerolog/log"
)

// ErrInvalidCredentials is returned for unknown users, wrong passwords and
// rejected tokens alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service checks HTTP Basic credentials and issues bearer tokens
type Service struct {
	config      *config.AuthConfig
	credentials map[string]string
}

// NewService creates a new authentication service from the configured
// user:password pairs.
func NewService(cfg *config.AuthConfig) (*Service, error) {
	credentials := make(map[string]string, len(cfg.Credentials))
	for _, entry := range cfg.Credentials {
		username, password, ok := strings.Cut(entry, ":")
		if !ok || username == "" {
			return nil, fmt.Errorf("credential for %q is not in user:password form", username)
		}
		if _, dup := credentials[username]; dup {
			return nil, fmt.Errorf("duplicate credential for user %q", username)
		}
		credentials[username] = password
	}

	if len(credentials) > 0 && cfg.JWTSecret == "" {
		log.Warn().Msg("no JWT secret configured, bearer tokens are disabled")
	}

	return &Service{
		config:      cfg,
		credentials: credentials,
	}, nil
}

// Enabled reports whether any credentials are configured. Without them every
// request is allowed.
func (s *Service) Enabled() bool {
	return len(s.credentials) > 0
}

// Realm returns the realm announced in Basic challenges
func (s *Service) Realm() string {
	return s.config.Realm
}

// Authenticate verifies a username and password. Stored passwords may be
// bcrypt hashes or plain text.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*types.Principal, error) {
	stored, ok := s.credentials[username]
	if !ok {
		return nil, ErrInvalidCredentials
	}

	var valid bool
	if utils.IsBcryptHash(stored) {
		valid = utils.CheckPassword(password, stored)
	} else {
		valid = subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
	}
	if !valid {
		log.Debug().Str("username", username).Msg("password rejected")
		return nil, ErrInvalidCredentials
	}

	return &types.Principal{Username: username, Method: "basic"}, nil
}

// IssueToken creates a bearer token for an authenticated principal
func (s *Service) IssueToken(ctx context.Context, principal *types.Principal) (*types.AuthToken, error) {
	if s.config.JWTSecret == "" {
		return nil, fmt.Errorf("bearer tokens are disabled")
	}

	token, err := utils.GenerateJWT(principal.Username, s.config.JWTSecret, s.config.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &types.AuthToken{
		Token:     token,
		ExpiresAt: time.Now().Add(s.config.JWTExpiration),
		Username:  principal.Username,
	}, nil
}

// ValidateToken validates a bearer token. Tokens of users that have since
// been removed from the configuration are rejected.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*types.Principal, error) {
	if s.config.JWTSecret == "" {
		return nil, ErrInvalidCredentials
	}

	username, err := utils.ValidateJWT(tokenString, s.config.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if _, ok := s.credentials[username]; !ok {
		return nil, ErrInvalidCredentials
	}

	return &types.Principal{Username: username, Method: "bearer"}, nil
}
