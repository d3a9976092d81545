package utils

import "github.com/google/uuid"

// GenerateID returns a prefixed random identifier, e.g. "auction_3f0c...".
func GenerateID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
