package keys

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
)

// P256KeyPair implements the KeyPair interface for NIST P-256 keys. Like
// secp256k1 and unlike X25519 (agreement only), P-256 is used both to sign
// and, via its ECDH conversion, as a DIDComm key-agreement curve.
type P256KeyPair struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	id         string
}

// GenerateP256KeyPair generates a new P-256 key pair.
func GenerateP256KeyPair() (sagecrypto.KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return newP256KeyPair(privateKey, "")
}

func newP256KeyPair(privateKey *ecdsa.PrivateKey, id string) (*P256KeyPair, error) {
	publicKey := &privateKey.PublicKey
	if id == "" {
		id = p256ID(publicKey)
	}
	return &P256KeyPair{privateKey: privateKey, publicKey: publicKey, id: id}, nil
}

func p256ID(pub *ecdsa.PublicKey) string {
	hash := sha256.Sum256(elliptic.Marshal(pub.Curve, pub.X, pub.Y))
	return hex.EncodeToString(hash[:8])
}

// PublicKey returns the public key.
func (kp *P256KeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

// PrivateKey returns the private key.
func (kp *P256KeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey
}

// Type returns the key type.
func (kp *P256KeyPair) Type() sagecrypto.KeyType {
	return sagecrypto.KeyTypeP256
}

// ID returns a unique identifier for this key pair.
func (kp *P256KeyPair) ID() string {
	return kp.id
}

// Sign signs message with ECDSA over SHA-256, IEEE P1363 fixed-size
// (r||s) encoding, matching the serialization used by secp256k1KeyPair.
func (kp *P256KeyPair) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, kp.privateKey, hash[:])
	if err != nil {
		return nil, err
	}
	return serializeSignature(r, s), nil
}

// Verify verifies a signature produced by Sign.
func (kp *P256KeyPair) Verify(message, signature []byte) error {
	hash := sha256.Sum256(message)
	r, s, err := deserializeSignature(signature)
	if err != nil {
		return sagecrypto.ErrInvalidSignature
	}
	if !ecdsa.Verify(kp.publicKey, hash[:], r, s) {
		return sagecrypto.ErrInvalidSignature
	}
	return nil
}

// ECDHPrivateKey converts to the stdlib ECDH representation for DIDComm
// key-agreement (ECDH-1PU / ECDH-ES), the same conversion X25519KeyPair
// exposes natively as its native type.
func (kp *P256KeyPair) ECDHPrivateKey() (*ecdh.PrivateKey, error) {
	return kp.privateKey.ECDH()
}

// ECDHPublicKey converts the public half to the stdlib ECDH representation.
func (kp *P256KeyPair) ECDHPublicKey() (*ecdh.PublicKey, error) {
	return kp.publicKey.ECDH()
}

// DeriveSharedSecret computes SHA-256 of the raw P-256 ECDH shared secret
// with a peer's uncompressed public key bytes, mirroring
// X25519KeyPair.DeriveSharedSecret's output shape.
func (kp *P256KeyPair) DeriveSharedSecret(peerPubBytes []byte) ([]byte, error) {
	selfECDH, err := kp.ECDHPrivateKey()
	if err != nil {
		return nil, err
	}
	peerPub, err := ecdh.P256().NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, err
	}
	shared, err := selfECDH.ECDH(peerPub)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(shared)
	return sum[:], nil
}

// serializeSignature and deserializeSignature are defined in secp256k1.go
// and reused here; both curves use 32-byte field elements.
