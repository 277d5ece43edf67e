package core

import (
	"strings"
	"time"
)

// MessageKind determines how the content of a message should be interpreted.
type MessageKind string

const (
	TextMessage  MessageKind = "TEXT"
	ImageMessage MessageKind = "IMAGE"
	VideoMessage MessageKind = "VIDEO"
	FileMessage  MessageKind = "FILE"
)

// Valid reports whether k is in the allowed set of message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case TextMessage, ImageMessage, VideoMessage, FileMessage:
		return true
	}
	return false
}

// Message is a chat message as it moves through the relay. The relay does not
// retain it after fan-out; durability is delegated to the MessageStore.
type Message struct {
	ID       string      `json:"id"`
	ChatID   string      `json:"chatId"`
	ToUserID string      `json:"toUserId,omitempty"`
	Sender   string      `json:"sender"`
	Content  string      `json:"content"`
	Kind     MessageKind `json:"type"`
	FileURL  string      `json:"fileUrl,omitempty"`
	FileName string      `json:"fileName,omitempty"`
	FileSize int64       `json:"fileSize,omitempty"`
	SentAt   time.Time   `json:"sentAt"`
	Read     bool        `json:"read"`
	ReadBy   string      `json:"readBy,omitempty"`
}

// DirectChatID derives the canonical chat identifier for a direct conversation
// between two users. The pair is ordered so both sides derive the same ID.
func DirectChatID(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// DirectPeer extracts the other participant of a direct chat identifier. It
// reports false when the chat is not a direct chat or the user is not one of
// its two participants.
func DirectPeer(chatID, userID string) (string, bool) {
	rest, found := strings.CutPrefix(chatID, "dm:")
	if !found {
		return "", false
	}
	a, b, found := strings.Cut(rest, ":")
	if !found {
		return "", false
	}
	switch userID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}
