package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"testing"

	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
	"github.com/didcomm-mediator/mediator/crypto/formats"
	"github.com/didcomm-mediator/mediator/crypto/keys"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSecrets is an in-memory Secrets capability keyed by kid, for tests.
type fakeSecrets struct {
	byKid map[string]sagecrypto.KeyPair
}

func (f *fakeSecrets) Lookup(ctx context.Context, kid string) (sagecrypto.KeyPair, bool) {
	kp, ok := f.byKid[kid]
	return kp, ok
}

func exportPublicJWK(t *testing.T, kp sagecrypto.KeyPair) map[string]interface{} {
	t.Helper()
	exported, err := formats.NewJWKExporter().ExportPublic(kp, sagecrypto.KeyFormatJWK)
	require.NoError(t, err)
	var jwk map[string]interface{}
	require.NoError(t, json.Unmarshal(exported, &jwk))
	return jwk
}

// packAnoncrypt builds a wire envelope by hand, mirroring what a DIDComm
// sender does, so the decryptor can be exercised against real bytes
// independently of this package's own Sealer.
func packAnoncrypt(t *testing.T, recipientKid string, recipientPub sagecrypto.KeyPair, plaintext []byte) []byte {
	t.Helper()

	ephemeral, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	kids := []string{recipientKid}
	apv := expectedAPV(kids)
	hdr := ProtectedHeader{
		Alg: "ECDH-ES+A256KW",
		Enc: "A256GCM",
		APV: apv,
		Epk: exportPublicJWK(t, ephemeral),
	}
	hdrBytes, err := json.Marshal(hdr)
	require.NoError(t, err)
	protectedB64 := b64Encode(hdrBytes)

	z, err := rawECDH(ephemeral, recipientPub.PublicKey())
	require.NoError(t, err)
	kek := concatKDF(z, 256, "ECDH-ES+A256KW", "", apv)

	cek := make([]byte, 32)
	copy(cek, []byte("0123456789abcdef0123456789abcdef")[:32])

	wrappedKey, err := aesKeyWrap(kek, cek)
	require.NoError(t, err)

	iv := []byte("012345678901")
	block, err := aes.NewCipher(cek)
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)
	sealed := aead.Seal(nil, iv, plaintext, []byte(protectedB64))
	ciphertext, tag := sealed[:len(sealed)-aead.Overhead()], sealed[len(sealed)-aead.Overhead():]

	wire := wireEnvelope{
		Protected: protectedB64,
		Recipients: []recipientWire{{
			Header:       recipientHeader{Kid: recipientKid},
			EncryptedKey: b64Encode(wrappedKey),
		}},
		IV:         b64Encode(iv),
		Ciphertext: b64Encode(ciphertext),
		Tag:        b64Encode(tag),
	}
	out, err := json.Marshal(wire)
	require.NoError(t, err)
	return out
}

// packAuthcrypt mirrors packAnoncrypt but binds the sender's static key via
// apu/skid and derives the key-wrap key with ECDH-1PU semantics (Ze || Zs).
func packAuthcrypt(t *testing.T, recipientKid string, recipientPub sagecrypto.KeyPair, senderKid string, senderPriv sagecrypto.KeyPair, plaintext []byte) []byte {
	t.Helper()

	ephemeral, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	kids := []string{recipientKid}
	apv := expectedAPV(kids)
	hdr := ProtectedHeader{
		Alg:  "ECDH-1PU+A256KW",
		Enc:  "A256GCM",
		APV:  apv,
		APU:  senderKid,
		Skid: senderKid,
		Epk:  exportPublicJWK(t, ephemeral),
	}
	hdrBytes, err := json.Marshal(hdr)
	require.NoError(t, err)
	protectedB64 := b64Encode(hdrBytes)

	ze, err := rawECDH(ephemeral, recipientPub.PublicKey())
	require.NoError(t, err)
	zs, err := rawECDH(senderPriv, recipientPub.PublicKey())
	require.NoError(t, err)
	z := append(append([]byte(nil), ze...), zs...)
	kek := concatKDF(z, 256, "ECDH-1PU+A256KW", senderKid, apv)

	cek := []byte("0123456789abcdef0123456789abcdef")[:32]
	wrappedKey, err := aesKeyWrap(kek, cek)
	require.NoError(t, err)

	iv := []byte("012345678901")
	block, err := aes.NewCipher(cek)
	require.NoError(t, err)
	aead, err := cipher.NewGCM(block)
	require.NoError(t, err)
	sealed := aead.Seal(nil, iv, plaintext, []byte(protectedB64))
	ciphertext, tag := sealed[:len(sealed)-aead.Overhead()], sealed[len(sealed)-aead.Overhead():]

	wire := wireEnvelope{
		Protected: protectedB64,
		Recipients: []recipientWire{{
			Header:       recipientHeader{Kid: recipientKid},
			EncryptedKey: b64Encode(wrappedKey),
		}},
		IV:         b64Encode(iv),
		Ciphertext: b64Encode(ciphertext),
		Tag:        b64Encode(tag),
	}
	out, err := json.Marshal(wire)
	require.NoError(t, err)
	return out
}

func TestUnpackAnoncryptRoundTrip(t *testing.T) {
	bobKeyPair, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	bobKid := "did:web:bob.example#key-2"
	bobDoc := jwkDocument(t, bobKeyPair, "did:web:bob.example", bobKid)

	plaintext := []byte(`{"text":"hi"}`)
	raw := packAnoncrypt(t, bobKid, bobKeyPair, plaintext)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.NoError(t, VerifyDIDComm(parsed))

	resolver := did.ResolverFunc(func(ctx context.Context, d did.DID) (*did.Document, error) {
		return bobDoc, nil
	})
	me, _, err := BuildMetaEnvelope(context.Background(), parsed, resolver)
	require.NoError(t, err)
	assert.True(t, me.Metadata.AnonymousSender)

	d := &Decryptor{
		Resolver: resolver,
		Secrets:  &fakeSecrets{byKid: map[string]sagecrypto.KeyPair{bobKid: bobKeyPair}},
		Policy:   Policy{CryptoOperationsPerMessage: 10},
	}
	result, err := d.Unpack(context.Background(), me)
	require.NoError(t, err)
	assert.Equal(t, plaintext, result.Plaintext)
	assert.True(t, result.Metadata.AnonymousSender)
	assert.Empty(t, result.Metadata.EncryptedFromKid)
}

func TestUnpackAuthcryptRoundTrip(t *testing.T) {
	bobKeyPair, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	bobKid := "did:web:bob.example#key-2"
	bobDoc := jwkDocument(t, bobKeyPair, "did:web:bob.example", bobKid)

	aliceKeyPair, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	aliceKid := "did:web:alice.example#key-1"
	aliceDoc := jwkDocument(t, aliceKeyPair, "did:web:alice.example", aliceKid)

	plaintext := []byte(`{"text":"hi"}`)
	raw := packAuthcrypt(t, bobKid, bobKeyPair, aliceKid, aliceKeyPair, plaintext)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.NoError(t, VerifyDIDComm(parsed))

	resolver := did.ResolverFunc(func(ctx context.Context, d did.DID) (*did.Document, error) {
		switch d {
		case "did:web:bob.example":
			return bobDoc, nil
		case "did:web:alice.example":
			return aliceDoc, nil
		default:
			t.Fatalf("unexpected resolve for %s", d)
			return nil, nil
		}
	})
	me, senderKeyPair, err := BuildMetaEnvelope(context.Background(), parsed, resolver)
	require.NoError(t, err)
	require.NotNil(t, senderKeyPair)

	d := &Decryptor{
		Resolver: resolver,
		Secrets:  &fakeSecrets{byKid: map[string]sagecrypto.KeyPair{bobKid: bobKeyPair}},
		Policy:   Policy{CryptoOperationsPerMessage: 10},
	}
	result, err := d.Unpack(context.Background(), me)
	require.NoError(t, err)
	assert.Equal(t, plaintext, result.Plaintext)
	assert.Equal(t, aliceKid, result.Metadata.EncryptedFromKid)
	assert.True(t, result.Metadata.Authenticated)
}

func TestUnpackSecretNotFound(t *testing.T) {
	bobKeyPair, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	bobKid := "did:web:bob.example#key-2"
	bobDoc := jwkDocument(t, bobKeyPair, "did:web:bob.example", bobKid)

	raw := packAnoncrypt(t, bobKid, bobKeyPair, []byte(`{"text":"hi"}`))
	parsed, err := Parse(raw)
	require.NoError(t, err)

	resolver := did.ResolverFunc(func(ctx context.Context, d did.DID) (*did.Document, error) {
		return bobDoc, nil
	})
	me, _, err := BuildMetaEnvelope(context.Background(), parsed, resolver)
	require.NoError(t, err)

	d := &Decryptor{
		Resolver: resolver,
		Secrets:  &fakeSecrets{byKid: map[string]sagecrypto.KeyPair{}},
		Policy:   Policy{CryptoOperationsPerMessage: 10},
	}
	_, err = d.Unpack(context.Background(), me)
	assertKind(t, err, KindSecretNotFound)
}

func TestUnpackTooManyCryptoOperations(t *testing.T) {
	bobKeyPair, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	bobKid := "did:web:bob.example#key-2"
	bobDoc := jwkDocument(t, bobKeyPair, "did:web:bob.example", bobKid)

	raw := packAnoncrypt(t, bobKid, bobKeyPair, []byte(`{"text":"hi"}`))
	parsed, err := Parse(raw)
	require.NoError(t, err)

	resolver := did.ResolverFunc(func(ctx context.Context, d did.DID) (*did.Document, error) {
		return bobDoc, nil
	})
	me, _, err := BuildMetaEnvelope(context.Background(), parsed, resolver)
	require.NoError(t, err)

	d := &Decryptor{
		Resolver: resolver,
		Secrets:  &fakeSecrets{byKid: map[string]sagecrypto.KeyPair{bobKid: bobKeyPair}},
		Policy:   Policy{CryptoOperationsPerMessage: 1},
	}

	// Corrupt the first (only) recipient's wrapped key so the first attempt
	// fails and falls through to a second, identical recipient entry — by
	// then the per-message budget of 1 is already spent.
	corrupted := me.Parsed.Recipients[0]
	corrupted.EncryptedKey = append([]byte(nil), corrupted.EncryptedKey...)
	corrupted.EncryptedKey[0] ^= 0xFF
	me.Parsed.Recipients[0] = corrupted
	me.Parsed.Recipients = append(me.Parsed.Recipients, me.Parsed.Recipients[0])
	me.Parsed.Recipients[1].EncryptedKey = append([]byte(nil), me.Parsed.Recipients[1].EncryptedKey...)
	me.Parsed.Recipients[1].EncryptedKey[0] ^= 0xFF

	_, err = d.Unpack(context.Background(), me)
	assertKind(t, err, KindTooManyCryptoOperations)
}
