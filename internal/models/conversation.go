package models

import "time"

// Conversation groups messages and carries the sequence counter that
// serializes concurrent settlements for the same chat.
type Conversation struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OwnerID uint64 `gorm:"not null;index"`         // User who owns (and funds) the conversation.
	IsGroup bool   `gorm:"not null;default:false"` // Group chats bill the owner under budget caps.

	CurrentEpoch uint64 `gorm:"not null;default:1"` // Active encryption epoch number.
	NextSequence uint64 `gorm:"not null;default:1"` // Next unassigned message sequence number.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ConversationEpoch records one key epoch of a conversation. The billing
// layer only reads epoch numbers; key material lives with the encryption
// collaborator.
type ConversationEpoch struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ConversationID uint64 `gorm:"not null;index:idx_epoch_conv_number,unique,composite:conv_number"` // Parent conversation.
	Number         uint64 `gorm:"not null;index:idx_epoch_conv_number,unique,composite:conv_number"` // Epoch number.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// ConversationMember links a user to a group conversation.
type ConversationMember struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ConversationID uint64 `gorm:"not null;index:idx_member_conv_user,unique,composite:conv_user"` // Parent conversation.
	UserID         uint64 `gorm:"not null;index:idx_member_conv_user,unique,composite:conv_user"` // Member user.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Join timestamp.
}
