package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()

	producer := NewProducerFrom(mockProducer)
	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-1", map[string]string{"name": "AB-1"}, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewProducerFrom(mockProducer)
	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-1", struct{}{}, nil)
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_CanceledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFrom(mockProducer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := producer.PublishEvent(ctx, TopicOrderEvents, "order-1", struct{}{}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestBuildMessageHeadersAreSorted(t *testing.T) {
	msg := buildMessage(TopicOrderEvents, "order-1", []byte(`{}`), map[string]string{
		HeaderOutboxID:  "outbox-1",
		HeaderEventType: "order.created",
	})

	if msg.Topic != TopicOrderEvents {
		t.Fatalf("unexpected topic %s", msg.Topic)
	}
	if len(msg.Headers) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(msg.Headers))
	}
	if string(msg.Headers[0].Key) != HeaderEventType || string(msg.Headers[0].Value) != "order.created" {
		t.Fatalf("unexpected first header %s=%s", msg.Headers[0].Key, msg.Headers[0].Value)
	}
	if string(msg.Headers[1].Key) != HeaderOutboxID {
		t.Fatalf("unexpected second header %s", msg.Headers[1].Key)
	}
}

func TestNewConfigIsIdempotent(t *testing.T) {
	config := NewConfig("pod-order-service")
	if !config.Producer.Idempotent || config.Net.MaxOpenRequests != 1 {
		t.Fatal("expected idempotent producer with a single in-flight request")
	}
	if config.Producer.RequiredAcks != sarama.WaitForAll {
		t.Fatalf("expected WaitForAll, got %v", config.Producer.RequiredAcks)
	}
	if config.ClientID != "pod-order-service" {
		t.Fatalf("unexpected client id %s", config.ClientID)
	}
}
