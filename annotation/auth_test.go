package annotation

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintToken(t *testing.T) {
	token, err := MintToken("secret", "user-1", time.Hour)
	require.NoError(t, err)

	user, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user)

	_, err = ParseToken("other", token)
	assert.Error(t, err, "wrong secret")

	forever, err := MintToken("secret", "user-1", 0)
	require.NoError(t, err)
	_, err = ParseToken("secret", forever)
	assert.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ParseToken("secret", expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = MintToken("", "user-1", time.Hour)
	assert.Error(t, err)

	_, err = ParseToken("secret", "not-a-token")
	assert.Error(t, err)
}
