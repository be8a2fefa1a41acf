package model

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRoundTrip(t *testing.T) {
	v, err := Secret("p@ss word").Value()
	require.NoError(t, err)
	sealed, ok := v.(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(sealed, secretPrefix))
	assert.NotContains(t, sealed, "p@ss")

	again, err := Secret("p@ss word").Value()
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per write")

	var s Secret
	require.NoError(t, s.Scan(sealed))
	assert.Equal(t, Secret("p@ss word"), s)
	require.NoError(t, s.Scan([]byte(again.(string))))
	assert.Equal(t, Secret("p@ss word"), s)
}

func TestSecretEmptyAndLegacy(t *testing.T) {
	v, err := Secret("").Value()
	require.NoError(t, err)
	assert.Equal(t, "", v)

	var s Secret
	require.NoError(t, s.Scan("plain-legacy"))
	assert.Equal(t, Secret("plain-legacy"), s)
	require.NoError(t, s.Scan(nil))
	assert.Equal(t, Secret(""), s)
	assert.Error(t, s.Scan(42))
}

func TestSecretWrongKey(t *testing.T) {
	t.Cleanup(func() { InitSecrets("") })

	assert.False(t, InitSecrets("key-one"))
	v, err := Secret("pw").Value()
	require.NoError(t, err)

	InitSecrets("key-two")
	var s Secret
	assert.ErrorIs(t, s.Scan(v), ErrSecretDecrypt)
	assert.Error(t, s.Scan(secretPrefix+"!!not-base64"))
	assert.ErrorIs(t, s.Scan(secretPrefix+"AAAA"), ErrSecretDecrypt)

	InitSecrets("key-one")
	require.NoError(t, s.Scan(v))
	assert.Equal(t, Secret("pw"), s)
	assert.True(t, InitSecrets("  "))
}

func TestSecretMaskedInLogs(t *testing.T) {
	d := Device{Username: "admin", Password: "hunter2"}
	assert.Equal(t, "******", fmt.Sprint(d.Password))
	assert.NotContains(t, fmt.Sprintf("%v", d), "hunter2")
	assert.Equal(t, "", Secret("").String())
}
