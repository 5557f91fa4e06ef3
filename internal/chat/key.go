package chat

import (
	"sort"
	"strings"
)

const keySeparator = "_"

// ResolveKey derives the canonical conversation key for two participants. The
// ids are sorted before joining, so either participant computes the same key.
func ResolveKey(a, b string) (string, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", ErrMissingParticipant
	}
	if strings.Contains(a, "/") || strings.Contains(b, "/") {
		return "", ErrInvalidActorID
	}
	if a == b {
		return "", ErrSameParticipant
	}

	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, keySeparator), nil
}

// participants returns the two ids in key order.
func participants(a, b string) []string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids
}

// Counterpart returns the other participant of key as seen by self.
func Counterpart(key, self string) (string, error) {
	self = strings.TrimSpace(self)
	if key == "" || self == "" {
		return "", ErrMissingParticipant
	}
	if rest, ok := strings.CutPrefix(key, self+keySeparator); ok && rest != "" {
		return rest, nil
	}
	if rest, ok := strings.CutSuffix(key, keySeparator+self); ok && rest != "" {
		return rest, nil
	}
	return "", ErrNotParticipant
}
