package models

import "time"

const (
	ChatSenderSystem = "system"
	ChatTypeSystem   = "system"
)

// ChatMessage is appended to a transaction's conversation thread.
type ChatMessage struct {
	TransactionID string    `json:"transactionId"`
	Text          string    `json:"text"`
	Sender        string    `json:"sender"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewSystemMessage builds a system-authored message for a transaction.
func NewSystemMessage(transactionID, text string, at time.Time) ChatMessage {
	return ChatMessage{
		TransactionID: transactionID,
		Text:          text,
		Sender:        ChatSenderSystem,
		Type:          ChatTypeSystem,
		Timestamp:     at,
	}
}
