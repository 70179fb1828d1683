package oob

import "github.com/google/uuid"

// newInviteID mints a random invite identifier, following the same
// google/uuid convention msgstore uses for message ids (spec §6/"IDs").
func newInviteID() (string, error) {
	return uuid.NewString(), nil
}
