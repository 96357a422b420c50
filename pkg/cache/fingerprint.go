package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pario-ai/warden/pkg/models"
)

// Normalize lower-cases s, trims it, and collapses whitespace runs.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Fingerprint computes a SHA-256 hash of the most recent user message after
// normalization. Earlier history does not contribute, so the same question
// asked in different conversations maps to the same key. It returns false when
// messages contains no user message with content.
func Fingerprint(messages []models.ChatMessage) (string, bool) {
	last, ok := models.LastUserMessage(messages)
	if !ok {
		return "", false
	}
	sum := sha256.Sum256([]byte(Normalize(last.Content)))
	return hex.EncodeToString(sum[:]), true
}
