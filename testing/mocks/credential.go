package mocks

import (
	"context"
	"net/http"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/LeadPages/gcloud-requests/credentials"
)

// MockCredential provides a testify-based mock implementation of credentials.Credential.
//
// Example usage:
//
//	cred := &mocks.MockCredential{}
//	cred.On("Valid").Return(true)
//	cred.On("Expiry").Return(time.Now().Add(time.Hour))
//	cred.ExpectApply("Bearer abc", nil)
type MockCredential struct {
	mock.Mock
}

// NewMockCredential creates a new mock credential
func NewMockCredential() *MockCredential {
	return &MockCredential{}
}

// Valid implements credentials.Credential
func (m *MockCredential) Valid() bool {
	args := m.Called()
	return args.Bool(0)
}

// Expiry implements credentials.Credential
func (m *MockCredential) Expiry() time.Time {
	args := m.Called()
	return args.Get(0).(time.Time)
}

// Refresh implements credentials.Credential
func (m *MockCredential) Refresh(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Apply implements credentials.Credential
func (m *MockCredential) Apply(ctx context.Context, header http.Header) error {
	args := m.Called(ctx, header)
	return args.Error(0)
}

// ExpectApply sets Authorization to value on every Apply call and returns err.
func (m *MockCredential) ExpectApply(value string, err error) *mock.Call {
	return m.On("Apply", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if err == nil {
				args.Get(1).(http.Header).Set("Authorization", value)
			}
		}).
		Return(err)
}

// ExpectRefresh sets up an expectation for Refresh returning err.
func (m *MockCredential) ExpectRefresh(err error) *mock.Call {
	return m.On("Refresh", mock.Anything).Return(err)
}

var _ credentials.Credential = (*MockCredential)(nil)
