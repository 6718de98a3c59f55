package utils

import (
    "testing"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestNewAccessToken(t *testing.T) {
    tok, err := NewAccessToken("secret", 42, "CUSTOMER", time.Hour)
    require.NoError(t, err)
    assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, 5*time.Second)

    claims := jwt.MapClaims{}
    parsed, err := jwt.ParseWithClaims(tok.Token, claims, func(*jwt.Token) (interface{}, error) {
        return []byte("secret"), nil
    })
    require.NoError(t, err)
    assert.True(t, parsed.Valid)
    assert.Equal(t, float64(42), claims["sub"])
    assert.Equal(t, "CUSTOMER", claims["role"])
}

func TestNewAccessToken_Expired(t *testing.T) {
    tok, err := NewAccessToken("secret", 42, "CUSTOMER", -time.Minute)
    require.NoError(t, err)

    _, err = jwt.Parse(tok.Token, func(*jwt.Token) (interface{}, error) { return []byte("secret"), nil })
    assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}
