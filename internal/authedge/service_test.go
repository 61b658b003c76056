package authedge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type mockCredentialRepository struct{ mock.Mock }

func (m *mockCredentialRepository) FindByUsername(ctx context.Context, username string) (*Credential, error) {
	args := m.Called(ctx, username)
	cred, _ := args.Get(0).(*Credential)
	return cred, args.Error(1)
}
func (m *mockCredentialRepository) Create(ctx context.Context, cred *Credential) error {
	return m.Called(ctx, cred).Error(0)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	repo := &mockCredentialRepository{}
	svc := NewService(repo, "test-secret")
	_, err := svc.Register(context.Background(), "alice", "short")
	require.Error(t, err)
}

func TestRegisterHashesPasswordAndReturnsOpaqueID(t *testing.T) {
	repo := &mockCredentialRepository{}
	repo.On("Create", mock.Anything, mock.AnythingOfType("*authedge.Credential")).Return(nil)

	svc := NewService(repo, "test-secret")
	userID, err := svc.Register(context.Background(), "alice", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, userID)
	repo.AssertExpectations(t)

	created := repo.Calls[0].Arguments.Get(1).(*Credential)
	assert.NotEqual(t, "hunter22", created.PasswordHash)
}

func TestAuthenticateAndVerifyTokenRoundTrip(t *testing.T) {
	repo := &mockCredentialRepository{}
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), "", "")
	require.Error(t, err)

	repo.On("Create", mock.Anything, mock.AnythingOfType("*authedge.Credential")).Return(nil).Once()
	userID, err := svc.Register(context.Background(), "bob", "hunter22")
	require.NoError(t, err)

	var created *Credential
	for _, call := range repo.Calls {
		if call.Method == "Create" {
			created = call.Arguments.Get(1).(*Credential)
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, userID, created.UserID)

	repo.On("FindByUsername", mock.Anything, "bob").Return(created, nil)
	token, err := svc.Authenticate(context.Background(), "bob", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	gotUserID, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, gotUserID)
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	repo := &mockCredentialRepository{}
	svc := NewService(repo, "test-secret")
	hashed, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.DefaultCost)
	require.NoError(t, err)
	cred := &Credential{UserID: "u1", Username: "bob", PasswordHash: string(hashed)}
	repo.On("FindByUsername", mock.Anything, "bob").Return(cred, nil)

	_, err = svc.Authenticate(context.Background(), "bob", "wrong-password")
	require.Error(t, err)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	repo := &mockCredentialRepository{}
	svc := NewService(repo, "test-secret")
	_, err := svc.VerifyToken("not-a-jwt")
	require.Error(t, err)
}
