// Package identity normalizes user identifiers across the system.
package identity

import "strings"

// GuestUserID is the sentinel identity for unidentified users. Bookmarks,
// profiles, and scores with no user attached are stored under this value so
// that empty and missing user ids resolve to the same rows.
const GuestUserID = "guest"

// Normalize maps an empty or whitespace-only user id to GuestUserID and
// trims any other value.
func Normalize(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return GuestUserID
	}
	return trimmed
}
