package chat

import (
	"strconv"
	"time"
)

// Conversation represents the conversations table. It always has exactly two
// participants fixed at creation.
type Conversation struct {
	ID             int64
	CreatorID      int64
	OtherID        int64
	PairKey        string
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Message represents the messages table. Body is kept in storage form.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Body           string
	IsViewed       bool
	CreatedAt      time.Time
}

// ConversationView is a conversation enriched with its latest message and the
// number of messages each participant has not viewed yet.
type ConversationView struct {
	Conversation
	LastMessage    *Message
	UnviewedByUser map[int64]int
}

// PairKey returns the order-independent key of a participant pair.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID int64) bool {
	return c.CreatorID == userID || c.OtherID == userID
}

// Counterpart returns the participant that is not userID.
func (c *Conversation) Counterpart(userID int64) int64 {
	if c.CreatorID == userID {
		return c.OtherID
	}
	return c.CreatorID
}
