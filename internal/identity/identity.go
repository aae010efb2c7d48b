// Package identity provides device identity and client-minted entity ids.
//
// Entities created in the field get a client-minted UUID before the server
// has seen them; the server accepts the id and may additionally assign
// human-facing numbers (e.g. report numbers) server-side.
package identity

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// NewEntityID mints a new client-side entity id.
func NewEntityID() string {
	return uuid.New().String()
}

// NewDeviceID mints a new device id. Minted once on first open and
// persisted in the sync_state row; all upload batches carry it.
func NewDeviceID() string {
	return uuid.New().String()
}

// IsValid checks whether s is a well-formed UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error when s is not a well-formed UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid entity id: %q", s)
	}
	return nil
}
