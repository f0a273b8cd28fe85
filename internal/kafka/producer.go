// Package kafka wraps a sarama SyncProducer for publishing JSON events.
package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// ErrNoBrokers is returned when no broker address is configured.
var ErrNoBrokers = errors.New("kafka: no brokers configured")

// Options tune the connect loop.
type Options struct {
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// DefaultOptions waits up to roughly fifty seconds for the brokers.
var DefaultOptions = Options{ConnectAttempts: 10, ConnectBackoff: 5 * time.Second}

type Producer struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

// NewProducer connects to brokers, retrying while they come up.
func NewProducer(brokers []string, opts Options, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 1
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	var (
		producer sarama.SyncProducer
		err      error
	)
	for i := 1; i <= opts.ConnectAttempts; i++ {
		producer, err = sarama.NewSyncProducer(brokers, config)
		if err == nil {
			logger.Info("kafka producer initialized", zap.Strings("brokers", brokers))
			return NewProducerFrom(producer, logger), nil
		}
		logger.Warn("waiting for kafka",
			zap.Int("attempt", i),
			zap.Int("max_attempts", opts.ConnectAttempts),
			zap.Error(err))
		if i < opts.ConnectAttempts {
			time.Sleep(opts.ConnectBackoff)
		}
	}
	return nil, fmt.Errorf("start kafka producer: %w", err)
}

// NewProducerFrom wraps an existing SyncProducer.
func NewProducerFrom(producer sarama.SyncProducer, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{producer: producer, logger: logger}
}

// PublishJSON marshals event and sends it to topic keyed by key, so that
// all events for one key land on one partition in order.
func (p *Producer) PublishJSON(topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send %s message: %w", topic, err)
	}

	p.logger.Debug("published event",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
