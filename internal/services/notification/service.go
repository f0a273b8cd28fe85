// Package notification delivers system messages into a transaction's chat
// thread.
package notification

import (
	"context"

	"bazaar/internal/models"

	"go.uber.org/zap"
)

// ChatNotifier appends a system message to a transaction's conversation.
// Callers invoke it only after the state change it describes is persisted.
type ChatNotifier interface {
	Notify(ctx context.Context, msg models.ChatMessage) error
}

// Publisher is the slice of the Kafka producer the notifier needs.
type Publisher interface {
	PublishJSON(topic, key string, event interface{}) error
}

// KafkaNotifier publishes chat messages to the chat service's topic, keyed
// by transaction id.
type KafkaNotifier struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

func NewKafkaNotifier(publisher Publisher, topic string, logger *zap.Logger) *KafkaNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{publisher: publisher, topic: topic, logger: logger}
}

func (n *KafkaNotifier) Notify(ctx context.Context, msg models.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.publisher.PublishJSON(n.topic, msg.TransactionID, msg); err != nil {
		n.logger.Error("chat notification failed",
			zap.String("transaction_id", msg.TransactionID),
			zap.Error(err))
		return err
	}
	return nil
}

// LogNotifier only logs messages. It is used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg models.ChatMessage) error {
	n.logger.Info("chat system message",
		zap.String("transaction_id", msg.TransactionID),
		zap.String("text", msg.Text))
	return nil
}
