package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bekzod-dev/tcenter-api/internal/models"
	"github.com/bekzod-dev/tcenter-api/pkg/config"
	appErrors "github.com/bekzod-dev/tcenter-api/pkg/errors"
)

type fakeUsers struct {
	user *models.User
}

func (f *fakeUsers) FindByEmail(context.Context, string) (*models.User, error) {
	if f.user == nil {
		return nil, sql.ErrNoRows
	}
	return f.user, nil
}

func (f *fakeUsers) FindByID(context.Context, string) (*models.User, error) {
	if f.user == nil {
		return nil, sql.ErrNoRows
	}
	return f.user, nil
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Expiration:        time.Hour,
		RefreshExpiration: 24 * time.Hour,
	}
}

func testUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "user-1",
		Email:        "admin@tcenter.uz",
		FullName:     "Bekzod Admin",
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
		Active:       true,
	}
}

func TestAuthService_Login_IssuesValidTokenPair(t *testing.T) {
	svc := NewAuthService(&fakeUsers{user: testUser(t, "s3cret")}, testJWTConfig(), nil, nil)

	result, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@tcenter.uz", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, result.User.Role)
	assert.Equal(t, int64(3600), result.ExpiresIn)

	claims, err := svc.ValidateToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	_, err = svc.ValidateToken(result.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	svc := NewAuthService(&fakeUsers{user: testUser(t, "s3cret")}, testJWTConfig(), nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@tcenter.uz", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthService_Login_UnknownEmailLooksLikeBadCredentials(t *testing.T) {
	svc := NewAuthService(&fakeUsers{}, testJWTConfig(), nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@tcenter.uz", Password: "s3cret"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthService_Login_InactiveAccount(t *testing.T) {
	user := testUser(t, "s3cret")
	user.Active = false
	svc := NewAuthService(&fakeUsers{user: user}, testJWTConfig(), nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@tcenter.uz", Password: "s3cret"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthService_Refresh_ReissuesTokens(t *testing.T) {
	svc := NewAuthService(&fakeUsers{user: testUser(t, "s3cret")}, testJWTConfig(), nil, nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@tcenter.uz", Password: "s3cret"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: "garbage"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
