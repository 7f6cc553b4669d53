package twitch

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventSub WebSocket message types.
const (
	MessageWelcome      = "session_welcome"
	MessageKeepalive    = "session_keepalive"
	MessageNotification = "notification"
	MessageReconnect    = "session_reconnect"
	MessageRevocation   = "revocation"
)

// Message is one frame received on an EventSub WebSocket.
type Message struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// Metadata identifies a [Message].
type Metadata struct {
	MessageID           string    `json:"message_id"`
	MessageType         string    `json:"message_type"`
	MessageTimestamp    time.Time `json:"message_timestamp"`
	SubscriptionType    string    `json:"subscription_type,omitempty"`
	SubscriptionVersion string    `json:"subscription_version,omitempty"`
}

// Session describes an EventSub WebSocket session.
type Session struct {
	ID                      string `json:"id"`
	Status                  string `json:"status"`
	KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
	ReconnectURL            string `json:"reconnect_url"`
}

// SessionPayload is the payload of welcome and reconnect messages.
type SessionPayload struct {
	Session Session `json:"session"`
}

// Subscription describes an EventSub subscription.
type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
}

// NotificationPayload is the payload of notification and revocation messages.
type NotificationPayload struct {
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event,omitempty"`
}

// Reward is the custom reward that was redeemed.
type Reward struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Cost   int    `json:"cost"`
	Prompt string `json:"prompt"`
}

// RedemptionEvent is the event of a [RedemptionAddType] notification.
type RedemptionEvent struct {
	ID                   string    `json:"id"`
	BroadcasterUserID    string    `json:"broadcaster_user_id"`
	BroadcasterUserLogin string    `json:"broadcaster_user_login"`
	UserID               string    `json:"user_id"`
	UserLogin            string    `json:"user_login"`
	UserName             string    `json:"user_name"`
	UserInput            string    `json:"user_input"`
	Status               string    `json:"status"`
	Reward               Reward    `json:"reward"`
	RedeemedAt           time.Time `json:"redeemed_at"`
}

// DecodeSession decodes the payload of a welcome or reconnect message.
func (m *Message) DecodeSession() (Session, error) {
	var p SessionPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return Session{}, fmt.Errorf("twitch: decode %s payload: %w", m.Metadata.MessageType, err)
	}
	return p.Session, nil
}

// DecodeNotification decodes the payload of a notification or revocation.
func (m *Message) DecodeNotification() (NotificationPayload, error) {
	var p NotificationPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return NotificationPayload{}, fmt.Errorf("twitch: decode %s payload: %w", m.Metadata.MessageType, err)
	}
	return p, nil
}

// DecodeRedemption decodes a redemption event.
func (p *NotificationPayload) DecodeRedemption() (RedemptionEvent, error) {
	var ev RedemptionEvent
	if err := json.Unmarshal(p.Event, &ev); err != nil {
		return RedemptionEvent{}, fmt.Errorf("twitch: decode redemption event: %w", err)
	}
	return ev, nil
}
