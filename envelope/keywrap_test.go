package envelope

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESKeyWrapRoundTrip(t *testing.T) {
	kek := make([]byte, 32)
	_, err := rand.Read(kek)
	require.NoError(t, err)

	cek := make([]byte, 64) // A256CBC-HS512 CEK size
	_, err = rand.Read(cek)
	require.NoError(t, err)

	wrapped, err := aesKeyWrap(kek, cek)
	require.NoError(t, err)
	assert.Len(t, wrapped, len(cek)+8)

	unwrapped, err := aesKeyUnwrap(kek, wrapped)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(cek, unwrapped))
}

func TestAESKeyUnwrapDetectsTamper(t *testing.T) {
	kek := make([]byte, 32)
	_, err := rand.Read(kek)
	require.NoError(t, err)
	cek := make([]byte, 32)
	_, err = rand.Read(cek)
	require.NoError(t, err)

	wrapped, err := aesKeyWrap(kek, cek)
	require.NoError(t, err)
	wrapped[0] ^= 0xFF

	_, err = aesKeyUnwrap(kek, wrapped)
	assert.Error(t, err)
}

func TestConcatKDFDeterministic(t *testing.T) {
	z := []byte("shared-secret-material")
	k1 := concatKDF(z, 256, "ECDH-ES+A256KW", "apu", "apv")
	k2 := concatKDF(z, 256, "ECDH-ES+A256KW", "apu", "apv")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	k3 := concatKDF(z, 256, "ECDH-1PU+A256KW", "apu", "apv")
	assert.NotEqual(t, k1, k3, "differing AlgorithmID must produce differing keys")
}
