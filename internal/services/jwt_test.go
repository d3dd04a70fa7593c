package services

import (
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTripKeepsRole(t *testing.T) {
	svc := NewJWTServiceWithKey("dgshop", []byte("test-key"))
	token, err := svc.GenerateToken(Identity{UserID: 7, Role: RoleAdmin})
	require.NoError(t, err)

	id, err := svc.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), id.UserID)
	assert.Equal(t, RoleAdmin, id.Role)
}

func TestJWTRejectsWrongKeyAndIssuer(t *testing.T) {
	token, err := NewJWTServiceWithKey("dgshop", []byte("k1")).GenerateToken(Identity{UserID: 1})
	require.NoError(t, err)

	_, err = NewJWTServiceWithKey("dgshop", []byte("k2")).ValidateToken(token)
	assert.Error(t, err)

	_, err = NewJWTServiceWithKey("other", []byte("k1")).ValidateToken(token)
	assert.Error(t, err)

	id, err := NewJWTServiceWithKey("dgshop", []byte("k1")).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, id.Role)
}

func TestJWTRefusesEmptyKey(t *testing.T) {
	svc := NewJWTServiceWithKey("dgshop", nil)
	_, err := svc.GenerateToken(Identity{UserID: 1, Role: RoleAdmin})
	assert.ErrorIs(t, err, ErrNoSigningKey)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":    "dgshop",
		"userid": 1,
		"role":   RoleAdmin,
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte{})
	require.NoError(t, err)

	_, err = svc.ValidateToken(forged)
	assert.ErrorIs(t, err, ErrNoSigningKey)
}
