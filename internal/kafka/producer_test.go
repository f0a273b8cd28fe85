package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil, DefaultOptions, nil)
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestPublishJSON_KeysByArgument(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "tx-9", string(key))
		assert.Equal(t, "chat.system-message", msg.Topic)
		return nil
	})

	p := NewProducerFrom(sp, nil)
	require.NoError(t, p.PublishJSON("chat.system-message", "tx-9", map[string]string{"text": "hi"}))
	require.NoError(t, p.Close())
}

func TestPublishJSON_MarshalError(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)

	p := NewProducerFrom(sp, nil)
	err := p.PublishJSON("topic", "k", make(chan int))
	assert.Error(t, err)
	require.NoError(t, p.Close())
}
