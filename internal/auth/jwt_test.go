package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewJWTService("test-secret", "dbaudit")

	token, err := svc.GenerateToken("dba1", true)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "dba1", claims.Username)
	require.True(t, claims.IsSuperuser)
	require.Equal(t, "dbaudit", claims.Issuer)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", "dbaudit").GenerateToken("dba1", false)
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", "dbaudit").ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	svc := NewJWTService("test-secret", "dbaudit")
	svc.expiry = -time.Hour

	token, err := svc.GenerateToken("dba1", false)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsUnsignedAlg(t *testing.T) {
	svc := NewJWTService("test-secret", "dbaudit")

	// alg=none 一律拒绝
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &TokenClaims{Username: "dba1"})
	tokenString, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(tokenString)
	require.Error(t, err)
}

func TestValidateTokenGarbage(t *testing.T) {
	svc := NewJWTService("test-secret", "dbaudit")
	_, err := svc.ValidateToken("not-a-token")
	require.Error(t, err)
}
