package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndAuthenticate(t *testing.T) {
	require.NoError(t, Init(time.Hour))
	id := Identity{UserID: uuid.New(), Name: "ana"}

	token, err := CreateJWT(id)
	require.NoError(t, err)

	got, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestAuthenticateRejectsForeignKey(t *testing.T) {
	require.NoError(t, Init(0))
	token, err := CreateJWT(Identity{UserID: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, Init(0))
	_, err = AuthenticateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsExpired(t *testing.T) {
	require.NoError(t, Init(0))
	claims := jwt.MapClaims{"sub": uuid.NewString(), "exp": time.Now().Add(-time.Minute).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(privateKey)
	require.NoError(t, err)

	_, err = AuthenticateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsNonUUIDSubject(t *testing.T) {
	require.NoError(t, Init(0))
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{"sub": "guest"}).SignedString(privateKey)
	require.NoError(t, err)

	_, err = AuthenticateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenTTL(t *testing.T) {
	for _, v := range []string{"", "0", "never"} {
		d, err := ParseTokenTTL(v)
		require.NoError(t, err)
		assert.Zero(t, d)
	}
	d, err := ParseTokenTTL("72h")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, d)

	_, err = ParseTokenTTL("soon")
	assert.Error(t, err)
}
