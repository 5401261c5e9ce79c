package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

func signToken(t *testing.T, secret string, claims *models.JWTClaims, method jwt.SigningMethod) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims(role models.UserRole) *models.JWTClaims {
	now := time.Now()
	return &models.JWTClaims{
		UserID: "user-1",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "dispatch",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
}

func TestValidateTokenAcceptsKnownRole(t *testing.T) {
	svc := NewAuthService(AuthConfig{AccessTokenSecret: "secret", Issuer: "dispatch"})
	claims, err := svc.ValidateToken(signToken(t, "secret", validClaims(models.RoleInstructor), jwt.SigningMethodHS256))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleInstructor, claims.Role)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewAuthService(AuthConfig{AccessTokenSecret: "secret", Issuer: "dispatch"})

	expired := validClaims(models.RoleAdmin)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims(models.RoleAdmin)
	wrongIssuer.Issuer = "other"

	cases := map[string]string{
		"wrong secret": signToken(t, "nope", validClaims(models.RoleAdmin), jwt.SigningMethodHS256),
		"expired":      signToken(t, "secret", expired, jwt.SigningMethodHS256),
		"issuer":       signToken(t, "secret", wrongIssuer, jwt.SigningMethodHS256),
		"role":         signToken(t, "secret", validClaims("GUEST"), jwt.SigningMethodHS256),
		"method":       signToken(t, "secret", validClaims(models.RoleAdmin), jwt.SigningMethodHS512),
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		_, err := svc.ValidateToken(token)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, appErrors.ErrUnauthorized, name)
	}
}
