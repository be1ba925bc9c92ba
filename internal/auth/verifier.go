// Package auth verifies bearer tokens issued by the external identity
// provider. Sessions, passwords and token issuance live with that provider;
// this service only checks signatures and standard claims.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"expenseterminal/internal/types"
)

const defaultLeeway = 30 * time.Second

// Config selects how token signatures are checked. When JWKSURL is set the
// provider's RSA/EC keys are fetched and refreshed in the background;
// otherwise HMACSecret is used with HS256.
type Config struct {
	Issuer     string
	Audience   string
	JWKSURL    string
	HMACSecret types.SecretString
	Leeway     time.Duration
}

// Verifier validates access tokens and extracts the caller identity.
type Verifier struct {
	parser  *jwt.Parser
	keyfunc jwt.Keyfunc
	logger  *slog.Logger
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewVerifier builds a Verifier. ctx bounds the lifetime of the background
// JWKS refresh.
func NewVerifier(ctx context.Context, cfg Config, logger *slog.Logger) (*Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	leeway := cfg.Leeway
	if leeway == 0 {
		leeway = defaultLeeway
	}

	opts := []jwt.ParserOption{
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var kf jwt.Keyfunc
	switch {
	case strings.TrimSpace(cfg.JWKSURL) != "":
		provider, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
		}
		kf = provider.Keyfunc
		opts = append(opts, jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Name,
			jwt.SigningMethodRS384.Name,
			jwt.SigningMethodRS512.Name,
			jwt.SigningMethodES256.Name,
		}))
	case cfg.HMACSecret.IsSet():
		secret := []byte(cfg.HMACSecret.Unmask())
		kf = func(*jwt.Token) (any, error) { return secret, nil }
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	default:
		return nil, errors.New("auth: either a JWKS URL or an HMAC secret is required")
	}

	return &Verifier{
		parser:  jwt.NewParser(opts...),
		keyfunc: kf,
		logger:  logger,
	}, nil
}

// Authenticate verifies token and returns the caller's identity. Expired
// tokens yield auth_token_expired; every other failure is
// auth_token_invalid.
func (v *Verifier) Authenticate(ctx context.Context, token string) (*types.Identity, error) {
	var claims tokenClaims
	parsed, err := v.parser.ParseWithClaims(token, &claims, v.keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
		}
		v.logger.DebugContext(ctx, "token rejected", "error", err)
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token is invalid", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}
	return &types.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}
