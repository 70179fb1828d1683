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

package did

import (
	"context"
	"sync"
	"time"
)

// Resolver resolves a DID to its document. DID method resolution itself is
// an external collaborator (spec §1): this package never speaks did:web,
// did:key, or any other method directly — it only consumes whatever
// resolves those methods on the caller's behalf.
type Resolver interface {
	Resolve(ctx context.Context, did DID) (*Document, error)
}

// ResolverFunc adapts a plain function to a Resolver.
type ResolverFunc func(ctx context.Context, did DID) (*Document, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, did DID) (*Document, error) {
	return f(ctx, did)
}

// cachedDocument pairs a resolved document with its cache expiry.
type cachedDocument struct {
	doc       *Document
	expiresAt time.Time
}

// CachingResolver wraps another Resolver with a read-through TTL cache. The
// spec treats the DID resolver cache as a read-through capability safe for
// concurrent calls (§5, Shared-resource policy) that the mediator never
// writes to directly — this is that capability's in-process shape, wrapping
// whichever external resolution collaborator is configured.
type CachingResolver struct {
	upstream Resolver
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[DID]*cachedDocument
}

// NewCachingResolver creates a caching wrapper around upstream with the
// given TTL. A non-positive TTL disables caching (every call passes through).
func NewCachingResolver(upstream Resolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		upstream: upstream,
		ttl:      ttl,
		cache:    make(map[DID]*cachedDocument),
	}
}

// Resolve implements Resolver, serving from cache when possible.
func (r *CachingResolver) Resolve(ctx context.Context, did DID) (*Document, error) {
	if r.ttl > 0 {
		if doc, ok := r.lookup(did); ok {
			return doc, nil
		}
	}

	doc, err := r.upstream.Resolve(ctx, did)
	if err != nil {
		return nil, err
	}

	if r.ttl > 0 {
		r.store(did, doc)
	}
	return doc, nil
}

func (r *CachingResolver) lookup(did DID) (*Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[did]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.doc, true
}

func (r *CachingResolver) store(did DID, doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache[did] = &cachedDocument{doc: doc, expiresAt: time.Now().Add(r.ttl)}
}

// Invalidate removes any cached entry for did, forcing the next Resolve to
// go to the upstream collaborator.
func (r *CachingResolver) Invalidate(did DID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, did)
}
