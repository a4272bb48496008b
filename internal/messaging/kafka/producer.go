package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer публикует события в Kafka синхронно: Publish возвращается только
// после подтверждения всех in-sync реплик.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewConfig возвращает конфигурацию sarama для идемпотентного продюсера.
func NewConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerFrom(producer), nil
}

// NewProducerFrom оборачивает готовый sarama.SyncProducer (в тестах - mocks.SyncProducer).
func NewProducerFrom(producer sarama.SyncProducer) *Producer {
	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}
}

// PublishEvent сериализует event в JSON и отправляет его с ключом и заголовками.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event any, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(buildMessage(topic, key, data, headers))
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")
	return nil
}

func buildMessage(topic, key string, value []byte, headers map[string]string) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}
	return msg
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
