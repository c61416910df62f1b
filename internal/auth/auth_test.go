package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-for-auth-tests"

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager("", time.Hour)
	require.Error(t, err)
}

func TestIssueAndValidateToken(t *testing.T) {
	mgr, err := NewManager(testSecret, time.Hour)
	require.NoError(t, err)

	tenantID := uuid.New()
	userID := uuid.New()

	token, expiresAt, err := mgr.IssueToken(tenantID, userID, "partner")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID, claims.TenantID)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "partner", claims.Role)
	assert.Equal(t, userID.String(), claims.Subject)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	mgr, err := NewManager(testSecret, time.Hour)
	require.NoError(t, err)
	other, err := NewManager("a-different-secret", time.Hour)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken(uuid.New(), uuid.New(), "")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenExpired(t *testing.T) {
	mgr, err := NewManager(testSecret, -time.Minute)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken(uuid.New(), uuid.New(), "")
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenGarbage(t *testing.T) {
	mgr, err := NewManager(testSecret, time.Hour)
	require.NoError(t, err)

	_, err = mgr.ValidateToken("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenMissingIdentity(t *testing.T) {
	mgr, err := NewManager(testSecret, time.Hour)
	require.NoError(t, err)

	// A structurally valid token signed with the right key but without
	// tenant/user claims must still be rejected.
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenWrongAlgorithm(t *testing.T) {
	mgr, err := NewManager(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: uuid.New(),
		UserID:   uuid.New(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
