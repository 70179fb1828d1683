package formats

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
	"github.com/didcomm-mediator/mediator/crypto/keys"
)

// secp256k1 is not one of the named curves crypto/x509 recognizes, so its
// SEC1 private keys are marshaled by hand using the curve's SEC 2 OID.
var oidSecp256k1 = asn1.ObjectIdentifier{1, 3, 132, 0, 10}

// ecPrivateKeyASN1 mirrors the unexported structure crypto/x509 uses for
// "EC PRIVATE KEY" PEM blocks (RFC 5915 / SEC1).
type ecPrivateKeyASN1 struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey     asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

func marshalSecp256k1PrivateKey(priv *ecdsa.PrivateKey) ([]byte, error) {
	privBytes := make([]byte, 32)
	return asn1.Marshal(ecPrivateKeyASN1{
		Version:       1,
		PrivateKey:    priv.D.FillBytes(privBytes),
		NamedCurveOID: oidSecp256k1,
		PublicKey:     asn1.BitString{Bytes: elliptic.Marshal(priv.Curve, priv.X, priv.Y)},
	})
}

func parseSecp256k1PrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	var key ecPrivateKeyASN1
	if _, err := asn1.Unmarshal(der, &key); err != nil {
		return nil, fmt.Errorf("failed to parse EC private key: %w", err)
	}
	if key.Version != 1 {
		return nil, fmt.Errorf("unknown EC private key version %d", key.Version)
	}
	if !key.NamedCurveOID.Equal(oidSecp256k1) {
		return nil, errors.New("not a secp256k1 private key")
	}
	d := new(big.Int).SetBytes(key.PrivateKey)
	curve := secp256k1.S256()
	x, y := curve.ScalarBaseMult(d.Bytes())
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}, nil
}

// pemExporter implements KeyExporter for PEM format.
type pemExporter struct{}

// NewPEMExporter creates a new PEM exporter.
func NewPEMExporter() sagecrypto.KeyExporter {
	return &pemExporter{}
}

// Export exports the key pair in PEM format.
func (e *pemExporter) Export(keyPair sagecrypto.KeyPair, format sagecrypto.KeyFormat) ([]byte, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	switch keyPair.Type() {
	case sagecrypto.KeyTypeEd25519:
		privateKey, ok := keyPair.PrivateKey().(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("invalid Ed25519 private key type")
		}
		der, err := x509.MarshalPKCS8PrivateKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal Ed25519 private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil

	case sagecrypto.KeyTypeSecp256k1:
		privateKey, ok := keyPair.PrivateKey().(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("invalid Secp256k1 private key type")
		}
		der, err := marshalSecp256k1PrivateKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal Secp256k1 private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil

	case sagecrypto.KeyTypeP256:
		privateKey, ok := keyPair.PrivateKey().(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("invalid P-256 private key type")
		}
		der, err := x509.MarshalECPrivateKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal P-256 private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil

	default:
		return nil, sagecrypto.ErrInvalidKeyType
	}
}

// ExportPublic exports only the public key in PEM format.
func (e *pemExporter) ExportPublic(keyPair sagecrypto.KeyPair, format sagecrypto.KeyFormat) ([]byte, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	switch keyPair.Type() {
	case sagecrypto.KeyTypeEd25519:
		publicKey, ok := keyPair.PublicKey().(ed25519.PublicKey)
		if !ok {
			return nil, errors.New("invalid Ed25519 public key type")
		}
		der, err := x509.MarshalPKIXPublicKey(publicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal Ed25519 public key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil

	case sagecrypto.KeyTypeSecp256k1, sagecrypto.KeyTypeP256:
		publicKey, ok := keyPair.PublicKey().(*ecdsa.PublicKey)
		if !ok {
			return nil, errors.New("invalid ECDSA public key type")
		}
		der, err := marshalECPublicKey(publicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal public key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil

	default:
		return nil, sagecrypto.ErrInvalidKeyType
	}
}

// oidPublicKeyECDSA is RFC 5480's id-ecPublicKey, used in the
// SubjectPublicKeyInfo algorithm identifier for all EC curves including
// secp256k1 (which crypto/x509 itself does not recognize as a named curve).
var oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}

type pkixAlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type pkixPublicKeyInfo struct {
	Algorithm pkixAlgorithmIdentifier
	PublicKey asn1.BitString
}

// marshalECPublicKey encodes an ECDSA public key as a PKIX
// SubjectPublicKeyInfo. Curves crypto/x509 recognizes (P-256) delegate to
// it directly; secp256k1 is encoded by hand with its own curve OID.
func marshalECPublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	if pub.Curve != secp256k1.S256() {
		return x509.MarshalPKIXPublicKey(pub)
	}

	paramBytes, err := asn1.Marshal(oidSecp256k1)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(pkixPublicKeyInfo{
		Algorithm: pkixAlgorithmIdentifier{
			Algorithm:  oidPublicKeyECDSA,
			Parameters: asn1.RawValue{FullBytes: paramBytes},
		},
		PublicKey: asn1.BitString{Bytes: elliptic.Marshal(pub.Curve, pub.X, pub.Y)},
	})
}

// parseSecp256k1PublicKey parses a PKIX SubjectPublicKeyInfo produced by
// marshalECPublicKey's secp256k1 branch.
func parseSecp256k1PublicKey(der []byte) (*ecdsa.PublicKey, error) {
	var info pkixPublicKeyInfo
	if _, err := asn1.Unmarshal(der, &info); err != nil {
		return nil, err
	}
	if !info.Algorithm.Algorithm.Equal(oidPublicKeyECDSA) {
		return nil, errors.New("not an EC public key")
	}
	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(info.Algorithm.Parameters.FullBytes, &oid); err != nil {
		return nil, err
	}
	if !oid.Equal(oidSecp256k1) {
		return nil, errors.New("not a secp256k1 public key")
	}
	curve := secp256k1.S256()
	x, y := elliptic.Unmarshal(curve, info.PublicKey.Bytes)
	if x == nil {
		return nil, errors.New("invalid secp256k1 public key point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// pemImporter implements KeyImporter for PEM format.
type pemImporter struct{}

// NewPEMImporter creates a new PEM importer.
func NewPEMImporter() sagecrypto.KeyImporter {
	return &pemImporter{}
}

func decodeFirstPEMBlock(data []byte) (*pem.Block, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	return block, nil
}

// Import imports a key pair from PEM format.
func (i *pemImporter) Import(data []byte, format sagecrypto.KeyFormat) (sagecrypto.KeyPair, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	block, err := decodeFirstPEMBlock(data)
	if err != nil {
		return nil, err
	}

	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		privateKey, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("unsupported PKCS8 private key type")
		}
		return keys.NewEd25519KeyPair(privateKey, "")

	case "EC PRIVATE KEY":
		if privateKey, err := parseSecp256k1PrivateKey(block.Bytes); err == nil {
			return newSecp256k1FromECDSA(privateKey)
		}
		privateKey, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %w", err)
		}
		return keys.NewP256KeyPair(privateKey, "")

	default:
		return nil, fmt.Errorf("unsupported PEM block type: %s", block.Type)
	}
}

func newSecp256k1FromECDSA(priv *ecdsa.PrivateKey) (sagecrypto.KeyPair, error) {
	privKey := secp256k1.PrivKeyFromBytes(priv.D.Bytes())
	return keys.NewSecp256k1KeyPair(privKey, "")
}

// ImportPublic imports only a public key from PEM format.
func (i *pemImporter) ImportPublic(data []byte, format sagecrypto.KeyFormat) (crypto.PublicKey, error) {
	if format != sagecrypto.KeyFormatPEM {
		return nil, sagecrypto.ErrInvalidKeyFormat
	}

	block, err := decodeFirstPEMBlock(data)
	if err != nil {
		return nil, err
	}

	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unsupported PEM block type: %s", block.Type)
	}

	if pub, err := parseSecp256k1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
