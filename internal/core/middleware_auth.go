package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"expenseterminal/internal/types"
)

// AuthMiddleware verifies the bearer token and attaches the caller's
// identity to the request context. Failures answer 401 with
// auth_token_missing, auth_token_invalid or auth_token_expired.
//
// With no Authenticator configured every request is rejected; the chassis
// never serves /v1 anonymously.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Bearer token is required", nil))
			return
		}
		if s.Authenticator == nil {
			s.Logger.ErrorContext(r.Context(), "no authenticator configured")
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Authentication failed", nil))
			return
		}

		identity, err := s.Authenticator.Authenticate(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if identity == nil || identity.UserID == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid authentication token", nil))
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithIdentity(r.Context(), *identity)))
	})
}

// extractBearerToken returns the token from "Bearer <token>". The scheme is
// case-insensitive (RFC 7235).
func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			s.Logger.InfoContext(r.Context(), "authentication failed: token expired",
				slog.String("path", r.URL.Path))
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenExpired, "Authentication token has expired", nil))
			return
		case types.ErrCodeAuthTokenInvalid:
			s.Logger.WarnContext(r.Context(), "authentication failed: token invalid",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid authentication token", nil))
			return
		}
	}

	s.Logger.ErrorContext(r.Context(), "authentication failed: unexpected error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
	Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Authentication failed", nil))
}

// UserIDFrom returns the authenticated user id, or writes a 401 and returns
// false. Handlers mounted behind AuthMiddleware use it as a guard.
func UserIDFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := types.GetUserID(r.Context())
	if !ok {
		Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return "", false
	}
	return userID, true
}
