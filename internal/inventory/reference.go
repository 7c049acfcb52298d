package inventory

import (
	"strings"

	"github.com/google/uuid"
)

// NewReference returns a human readable unique document number such as SO-1A2B3C4D5E6F7081.
func NewReference(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + id[:16]
}
