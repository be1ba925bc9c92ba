package core

import (
	"context"

	"expenseterminal/internal/types"
)

// Authenticator resolves a bearer token issued by the external identity
// provider to the caller's identity.
//
// Implementations return an AppError with ErrCodeAuthTokenExpired for tokens
// that verified but are past their expiry, and ErrCodeAuthTokenInvalid for
// everything else (bad signature, wrong issuer, missing subject).
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*types.Identity, error)
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}
