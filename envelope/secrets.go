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
	"context"

	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
)

// KeyStorageSecrets adapts a crypto.KeyStorage into the Secrets capability
// Decryptor consults: the mediator's key-agreement key pairs are stored and
// looked up by their kid, the same id a KeyStorage indexes key material by
// elsewhere in this codebase (crypto/storage).
type KeyStorageSecrets struct {
	Storage sagecrypto.KeyStorage
}

// NewKeyStorageSecrets wraps storage as a Secrets capability.
func NewKeyStorageSecrets(storage sagecrypto.KeyStorage) *KeyStorageSecrets {
	return &KeyStorageSecrets{Storage: storage}
}

// Lookup implements Secrets.
func (s *KeyStorageSecrets) Lookup(ctx context.Context, kid string) (sagecrypto.KeyPair, bool) {
	kp, err := s.Storage.Load(kid)
	if err != nil {
		return nil, false
	}
	return kp, true
}

var _ Secrets = (*KeyStorageSecrets)(nil)
