package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const (
	conversationIDPrefix = "dm_"
	maxParticipantIDLen  = 128
	pairSeparator        = "\x1f"
)

// ResolveConversationID derives the canonical conversation id for an
// unordered participant pair. The result does not depend on argument order.
func ResolveConversationID(x, y string) (string, error) {
	if err := ValidateParticipantID(x); err != nil {
		return "", err
	}
	if err := ValidateParticipantID(y); err != nil {
		return "", err
	}
	if x == y {
		return "", invalid(ErrInvalidParticipants, "self_conversation")
	}
	a, b := canonicalPair(x, y)
	sum := sha256.Sum256([]byte(a + pairSeparator + b))
	return conversationIDPrefix + hex.EncodeToString(sum[:20]), nil
}

// ValidateParticipantID rejects empty, oversized, or whitespace/control
// bearing identifiers. Ids are otherwise opaque.
func ValidateParticipantID(id string) error {
	if id == "" {
		return invalid(ErrInvalidParticipants, "empty_participant")
	}
	if len(id) > maxParticipantIDLen {
		return invalid(ErrInvalidParticipants, "participant_too_long")
	}
	if strings.IndexFunc(id, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar
	}) >= 0 {
		return invalid(ErrInvalidParticipants, "malformed_participant")
	}
	return nil
}

func canonicalPair(x, y string) (string, string) {
	if y < x {
		return y, x
	}
	return x, y
}
