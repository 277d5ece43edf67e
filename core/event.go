package core

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Client to server event types.
const (
	EventAuthenticate    = "authenticate"
	EventSendMessage     = "send_message"
	EventTyping          = "typing"
	EventMarkRead        = "mark_read"
	EventJoinChat        = "join_chat"
	EventLeaveChat       = "leave_chat"
	EventGetChatMessages = "get_chat_messages"
	EventGetOnlineUsers  = "get_online_users"
)

// Server to client event types.
const (
	EventAuthenticated = "authenticated"
	EventAuthError     = "auth_error"
	EventNewMessage    = "new_message"
	EventMessageSent   = "message_sent"
	EventUserTyping    = "user_typing"
	EventUserStatus    = "user_status"
	EventChatMessages  = "chat_messages"
	EventMessageRead   = "message_read"
	EventError         = "error"
)

// Event is the wire envelope. The payload is decoded to a concrete type by
// DecodeClientEvent on the server and left to the caller on the client.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Payload.Size: %d}", e.Type, len(e.Payload))
}

// NewEvent builds an envelope with the payload marshalled to JSON.
func NewEvent(t string, payload interface{}) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Event{Type: t, Payload: b}, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// ClientEvent is the closed set of events a client may send. Adding an event
// means adding a payload type here and a case to both DecodeClientEvent and
// the gateway dispatch switch.
type ClientEvent interface {
	clientEvent()
}

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type SendMessagePayload struct {
	ChatID        string      `json:"chatId,omitempty" validate:"required_without=ToUserID"`
	ToUserID      string      `json:"toUserId,omitempty"`
	Content       string      `json:"content" validate:"required_without=FileURL"`
	Kind          MessageKind `json:"type"`
	FileURL       string      `json:"fileUrl,omitempty"`
	FileName      string      `json:"fileName,omitempty"`
	FileSize      int64       `json:"fileSize,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

type TypingPayload struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type MarkReadPayload struct {
	MessageID string `json:"messageId"`
}

type JoinChatPayload struct {
	ChatID string `json:"chatId"`
}

type LeaveChatPayload struct {
	ChatID string `json:"chatId"`
}

type GetChatMessagesPayload struct {
	ChatID string `json:"chatId"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

type GetOnlineUsersPayload struct{}

func (AuthenticatePayload) clientEvent()    {}
func (SendMessagePayload) clientEvent()     {}
func (TypingPayload) clientEvent()          {}
func (MarkReadPayload) clientEvent()        {}
func (JoinChatPayload) clientEvent()        {}
func (LeaveChatPayload) clientEvent()       {}
func (GetChatMessagesPayload) clientEvent() {}
func (GetOnlineUsersPayload) clientEvent()  {}

// DecodeClientEvent maps an envelope to one of the ClientEvent payload types.
// Unknown event types and malformed payloads return ErrInvalidPayload.
func DecodeClientEvent(e *Event) (ClientEvent, error) {
	switch e.Type {
	case EventAuthenticate:
		return decodePayload[AuthenticatePayload](e)
	case EventSendMessage:
		return decodePayload[SendMessagePayload](e)
	case EventTyping:
		return decodePayload[TypingPayload](e)
	case EventMarkRead:
		return decodePayload[MarkReadPayload](e)
	case EventJoinChat:
		return decodePayload[JoinChatPayload](e)
	case EventLeaveChat:
		return decodePayload[LeaveChatPayload](e)
	case EventGetChatMessages:
		return decodePayload[GetChatMessagesPayload](e)
	case EventGetOnlineUsers:
		return GetOnlineUsersPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, e.Type)
	}
}

func decodePayload[T ClientEvent](e *Event) (ClientEvent, error) {
	var p T
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, e.Type, err)
		}
	}
	return p, nil
}

// Server event payloads.

type AuthenticatedPayload struct {
	UserID string `json:"userId"`
}

type AuthErrorPayload struct {
	Message string `json:"message"`
}

type MessageSentPayload struct {
	Message
	CorrelationID string `json:"correlationId"`
}

type UserTypingPayload struct {
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type UserStatusPayload struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type ChatMessagesPayload struct {
	ChatID   string    `json:"chatId"`
	Messages []Message `json:"messages"`
}

type MessageReadPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	ReadBy    string `json:"readBy"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
