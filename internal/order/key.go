package order

import (
	"strings"

	"github.com/google/uuid"
)

const (
	maxKeyLength        = 36
	keySuffixLength     = 8
	defaultKeyNamespace = "trader"
)

// NewIdempotencyKey returns "<namespace>-<decision>-<random>" for one logical
// submission. Keys are at most 36 characters of [A-Za-z0-9_-] so they fit
// client order id limits of the supported platforms. The decision part is
// truncated when needed; the random suffix never is.
func NewIdempotencyKey(namespace, decisionID string) string {
	ns := sanitizeKeyPart(namespace)
	if ns == "" {
		ns = defaultKeyNamespace
	}
	if len(ns) > 8 {
		ns = ns[:8]
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:keySuffixLength]
	decision := sanitizeKeyPart(decisionID)
	room := maxKeyLength - len(ns) - len(suffix) - 2
	if len(decision) > room {
		decision = decision[:room]
	}
	if decision == "" {
		return ns + "-" + suffix
	}
	return ns + "-" + decision + "-" + suffix
}

func sanitizeKeyPart(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		case r == '-' || r == '.' || r == ':' || r == '/':
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
