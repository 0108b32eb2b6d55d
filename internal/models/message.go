package models

import "time"

// Message roles.
const (
	// MessageRoleUser marks a user-authored message.
	MessageRoleUser = "user"
	// MessageRoleAssistant marks a model-authored message.
	MessageRoleAssistant = "assistant"
)

// Message is one row of a chat turn. User and assistant messages are
// inserted as a pair in the settlement transaction; the assistant row
// carries the cost, the user row does not.
//
// The primary key is a caller-supplied UUID and doubles as the settlement
// idempotency key: a duplicate insert fails the whole transaction.
type Message struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Caller-supplied UUID.

	ConversationID uint64 `gorm:"not null;index"` // Parent conversation.
	Epoch          uint64 `gorm:"not null"`       // Encryption epoch the content was sealed under.
	Sequence       uint64 `gorm:"not null;index"` // Per-conversation sequence number.

	Role       string `gorm:"type:text;not null"` // user or assistant.
	SenderID   uint64 `gorm:"not null;index"`     // Authoring user.
	Ciphertext []byte // Encrypted content from the key collaborator.

	CostCents *float64 `gorm:"type:decimal(20,10)"` // Charge in cents, assistant rows only.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
