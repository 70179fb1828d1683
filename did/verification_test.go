package did

import (
	"encoding/json"
	"testing"

	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
	"github.com/didcomm-mediator/mediator/crypto/formats"
	"github.com/didcomm-mediator/mediator/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyAgreementKeyPair(t *testing.T) {
	keyPair, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	exported, err := formats.NewJWKExporter().ExportPublic(keyPair, sagecrypto.KeyFormatJWK)
	require.NoError(t, err)

	var jwk map[string]interface{}
	require.NoError(t, json.Unmarshal(exported, &jwk))

	doc := &Document{
		ID: "did:web:example.com",
		VerificationMethod: []VerificationMethod{
			{ID: "did:web:example.com#key-1", Type: "JsonWebKey2020", PublicKeyJWK: jwk},
		},
		KeyAgreement: []string{"did:web:example.com#key-1"},
	}

	resolved, err := KeyAgreementKeyPair(doc, "did:web:example.com#key-1")
	require.NoError(t, err)
	assert.Equal(t, sagecrypto.KeyTypeX25519, resolved.Type())
	assert.Nil(t, resolved.PrivateKey())

	_, err = resolved.Sign([]byte("hello"))
	assert.ErrorIs(t, err, sagecrypto.ErrSignNotSupported)
}

func TestKeyAgreementKeyPairNotListed(t *testing.T) {
	doc := &Document{
		ID: "did:web:example.com",
		VerificationMethod: []VerificationMethod{
			{ID: "did:web:example.com#key-1", Type: "JsonWebKey2020"},
		},
	}

	_, err := KeyAgreementKeyPair(doc, "did:web:example.com#key-1")
	assert.ErrorIs(t, err, ErrDIDUrlNotFound)
}
