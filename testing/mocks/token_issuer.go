// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockTokenIssuer implements lifecycle.TokenIssuer for testing
type MockTokenIssuer struct {
	mock.Mock
}

func (m *MockTokenIssuer) Issue(ctx context.Context, container string) (string, error) {
	args := m.Called(ctx, container)
	return args.String(0), args.Error(1)
}

func (m *MockTokenIssuer) Revoke(ctx context.Context, container string) error {
	args := m.Called(ctx, container)
	return args.Error(0)
}
