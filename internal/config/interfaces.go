package config

import "context"

// SecretProvider resolves secret references (SSM parameter paths) to their
// plaintext values.
type SecretProvider interface {
	// GetParametersBatch returns path -> value for every path it found.
	// Implementations batch requests to stay within provider limits.
	GetParametersBatch(ctx context.Context, paths []string) (map[string]string, error)
}
