// ABOUTME: ULID-based id minting for messages, approvals, and streaming part ids.

package agent

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewMessageID mints a message id: msg_<ulid>.
func NewMessageID() string {
	return "msg_" + ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// NewApprovalID mints an approval id: appr_<ulid>.
func NewApprovalID() string {
	return "appr_" + ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// TextPartID names the nth text part of a message.
func TextPartID(messageID string, n int) string {
	return fmt.Sprintf("%s_text_%d", messageID, n)
}

// ReasoningPartID names the nth reasoning part of a message.
func ReasoningPartID(messageID string, n int) string {
	return fmt.Sprintf("%s_reasoning_%d", messageID, n)
}
