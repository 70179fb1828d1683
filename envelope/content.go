// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// contentDecryptor authenticates and decrypts a JWE ciphertext given the
// content-encryption key, binding protected/iv/tag as required by spec §4.3.
// A dispatch table over the three supported "enc" values avoids a dynamic
// dispatch trait object in the hot path (design note: "polymorphism over
// key types").
type contentDecryptor func(cek, iv, ciphertext, tag, aad []byte) ([]byte, error)

var contentDecryptors = map[string]contentDecryptor{
	"A256GCM":        decryptA256GCM,
	"XC20P":          decryptXC20P,
	"A256CBC-HS512":  decryptA256CBCHS512,
}

func decryptA256GCM(cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, iv, append(append([]byte(nil), ciphertext...), tag...), aad)
}

func decryptXC20P(cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(cek)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, iv, append(append([]byte(nil), ciphertext...), tag...), aad)
}

// decryptA256CBCHS512 implements RFC 7518 §5.2.3 AES_256_CBC_HMAC_SHA_512:
// the 512-bit CEK splits into a 256-bit MAC key (first half) and a 256-bit
// AES key (second half); the tag is HMAC-SHA-512 over
// (aad || iv || ciphertext || aad-bit-length), truncated to 32 bytes.
func decryptA256CBCHS512(cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(cek) != 64 {
		return nil, fmt.Errorf("a256cbc-hs512: key must be 64 bytes, got %d", len(cek))
	}
	macKey, encKey := cek[:32], cek[32:]

	mac := hmac.New(sha512.New, macKey)
	mac.Write(aad)
	mac.Write(iv)
	mac.Write(ciphertext)
	mac.Write(aadLength(aad))
	expectedTag := mac.Sum(nil)[:32]
	if subtle.ConstantTimeCompare(expectedTag, tag) != 1 {
		return nil, fmt.Errorf("a256cbc-hs512: tag mismatch")
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%aes.BlockSize != 0 || len(ciphertext) == 0 {
		return nil, fmt.Errorf("a256cbc-hs512: ciphertext is not a multiple of the block size")
	}
	mode := cipher.NewCBCDecrypter(block, iv)
	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

func aadLength(aad []byte) []byte {
	bits := uint64(len(aad)) * 8
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[7-i] = byte(bits >> (8 * i))
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("a256cbc-hs512: empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, fmt.Errorf("a256cbc-hs512: invalid padding")
	}
	return data[:len(data)-padLen], nil
}
