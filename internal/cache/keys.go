package cache

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(clientKey string) string {
	return fmt.Sprintf("ratelimit:%s", clientKey)
}

// ReplyClaimKey identifies a chat message by peer and message id. The peer is
// normalized so "@Bot" and "bot" share claims.
func ReplyClaimKey(peer string, msgID int64) string {
	return fmt.Sprintf("chat:claim:%s:%d", strings.ToLower(strings.TrimPrefix(peer, "@")), msgID)
}

func SenderKey(senderID string) string {
	return fmt.Sprintf("chat:sender:%s", senderID)
}
