package core

import (
	"context"
	"sync"

	"expenseterminal/internal/types"
)

// MockAuthenticator is an Authenticator for tests. AuthenticateFunc wins
// over Err, which wins over Identity.
type MockAuthenticator struct {
	Identity         *types.Identity
	Err              error
	AuthenticateFunc func(ctx context.Context, token string) (*types.Identity, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, token string) (*types.Identity, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Identity, nil
}

// MockProbe is a HealthProbe returning Err, optionally after blocking until
// the context ends when Block is set.
type MockProbe struct {
	ProbeName string
	Err       error
	Block     bool
}

func (p *MockProbe) Name() string { return p.ProbeName }

func (p *MockProbe) Check(ctx context.Context) error {
	if p.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.Err
}

var (
	_ Authenticator = (*MockAuthenticator)(nil)
	_ HealthProbe   = (*MockProbe)(nil)
	_ HealthProbe   = (*PingProbe)(nil)
)
