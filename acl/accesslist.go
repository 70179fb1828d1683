package acl

import "encoding/json"

// List holds the set of DID hashes an account's access list names, with
// the interpretation (explicit-allow / explicit-deny) controlled by the
// owning account's BitAccessListMode.
type List struct {
	Mode    Mode
	Entries map[string]struct{} // DID hash -> present
}

// NewList returns an empty access list under the given mode.
func NewList(mode Mode) *List {
	return &List{Mode: mode, Entries: make(map[string]struct{})}
}

// Add inserts a DID hash into the list.
func (l *List) Add(didHash string) {
	l.Entries[didHash] = struct{}{}
}

// Remove deletes a DID hash from the list.
func (l *List) Remove(didHash string) {
	delete(l.Entries, didHash)
}

// Contains reports whether the hash is present in the list.
func (l *List) Contains(didHash string) bool {
	_, ok := l.Entries[didHash]
	return ok
}

// listWire is List's JSON wire shape: Entries as a plain set-of-strings
// rather than a map-to-empty-struct, which encoding/json can marshal but
// which reads oddly ("entries":{"hash":{}}) in a persisted ACCESS_LIST value.
type listWire struct {
	Mode    Mode     `json:"mode"`
	Entries []string `json:"entries"`
}

// MarshalList encodes a List for storage (e.g. RedisAccountIndex's
// ACCESS_LIST:<hash> key). A nil list encodes as a JSON null.
func MarshalList(l *List) ([]byte, error) {
	if l == nil {
		return json.Marshal(nil)
	}
	w := listWire{Mode: l.Mode, Entries: make([]string, 0, len(l.Entries))}
	for hash := range l.Entries {
		w.Entries = append(w.Entries, hash)
	}
	return json.Marshal(w)
}

// UnmarshalList decodes a List previously encoded by MarshalList.
func UnmarshalList(raw []byte) (*List, error) {
	var w listWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	l := NewList(w.Mode)
	for _, hash := range w.Entries {
		l.Add(hash)
	}
	return l, nil
}

// Allowed implements access_list_allowed(to_hash, from_hash?): given the
// access list owned by to_hash and the anon-receive bit of its ACL set,
// decide whether a message from from_hash (or an anonymous sender) may
// reach to_hash.
//
//   - explicit-allow mode: true iff from_hash is in the list.
//   - explicit-deny mode:  true iff from_hash is NOT in the list.
//   - anonymous senders (fromHash == ""): governed solely by the
//     anon-receive ACL bit, regardless of list membership.
func Allowed(list *List, recipientACL Set, fromHash string) bool {
	if fromHash == "" {
		return recipientACL.Has(BitAnonReceive)
	}
	if list == nil {
		// No list configured: explicit-deny with an empty list allows everyone.
		return true
	}
	switch list.Mode {
	case ExplicitAllow:
		return list.Contains(fromHash)
	default: // ExplicitDeny
		return !list.Contains(fromHash)
	}
}
