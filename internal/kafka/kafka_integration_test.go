//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap"
)

func TestProducerConsumerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	kc, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("orders-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kc.Terminate(context.Background()) })
	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)

	const topic = "order.placed.test"
	client := &kafka.Client{Addr: kafka.TCP(brokers...)}
	_, err = client.CreateTopics(ctx, &kafka.CreateTopicsRequest{Topics: []kafka.TopicConfig{
		{Topic: topic, NumPartitions: 1, ReplicationFactor: 1},
	}})
	require.NoError(t, err)

	prod := NewProducer(brokers, topic, 16, zap.NewNop())
	prod.Start()
	require.NoError(t, prod.Publish([]byte("o1"), []byte(`{"event_id":"e1"}`), EventHeaders("OrderPlaced", 1)...))
	prod.Close()
	prod.WaitClosed()

	got := make(chan kafka.Message, 1)
	cctx, stop := context.WithCancel(ctx)
	defer stop()
	cons := NewConsumer(brokers, "orders-test", topic, 2, zap.NewNop())
	done := make(chan error, 1)
	go func() {
		done <- cons.Start(cctx, func(_ context.Context, m kafka.Message) error {
			got <- m
			return nil
		})
	}()

	select {
	case m := <-got:
		assert.Equal(t, "o1", string(m.Key))
		assert.Equal(t, "OrderPlaced", HeaderValue(m.Headers, HeaderEventType))
	case <-ctx.Done():
		t.Fatal("no message consumed")
	}
	stop()
	assert.NoError(t, <-done)
}
