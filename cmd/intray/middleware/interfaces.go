package middleware

import (
	"context"

	"github.com/lgulliver/intray/pkg/types"
)

// AuthServiceInterface defines the contract for authentication services
type AuthServiceInterface interface {
	Enabled() bool
	Realm() string
	Authenticate(ctx context.Context, username, password string) (*types.Principal, error)
	ValidateToken(ctx context.Context, token string) (*types.Principal, error)
}
