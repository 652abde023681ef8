// Package mq carries relay envelopes between instances over Kafka.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"astro_chat_server/internal/config"
	"astro_chat_server/internal/service/relay"
)

// KafkaBroker implements relay.Broker. Envelopes are keyed by target id;
// every instance reads the whole topic in its own consumer group and
// keeps what is addressed to its local connections.
type KafkaBroker struct {
	writer *kafka.Writer
	reader *kafka.Reader
	conf   config.KafkaConfig
}

// NewKafkaBroker builds the writer and the per-instance reader.
func NewKafkaBroker(conf config.KafkaConfig, instanceID string) *KafkaBroker {
	brokers := splitBrokers(conf.HostPort)
	timeout := conf.Timeout * time.Second
	if timeout <= 0 {
		timeout = time.Second
	}

	return &KafkaBroker{
		conf: conf,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  conf.RelayTopic,
			Balancer:               &kafka.Hash{},
			WriteTimeout:           timeout,
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: false,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          conf.RelayTopic,
			CommitInterval: timeout,
			GroupID:        consumerGroup(instanceID),
			StartOffset:    kafka.LastOffset,
		}),
	}
}

// CreateTopic creates the relay topic. An existing topic is fine.
func (b *KafkaBroker) CreateTopic() error {
	brokers := splitBrokers(b.conf.HostPort)
	if len(brokers) == 0 {
		return errors.New("kafka: no broker configured")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	partitions := b.conf.Partition
	if partitions <= 0 {
		partitions = 1
	}
	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             b.conf.RelayTopic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if errors.Is(err, kafka.TopicAlreadyExists) {
		return nil
	}
	return err
}

func (b *KafkaBroker) Publish(ctx context.Context, env relay.Envelope) error {
	value, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Target),
		Value: value,
	})
}

// Consume reads until ctx is done or the reader is closed.
// Undecodable messages are logged and skipped.
func (b *KafkaBroker) Consume(ctx context.Context, handle func(relay.Envelope)) error {
	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			zap.L().Error("kafka read", zap.Error(err))
			return err
		}
		env, err := decodeEnvelope(msg.Value)
		if err != nil {
			zap.L().Warn("kafka skip envelope",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		handle(env)
	}
}

func (b *KafkaBroker) Close() error {
	return errors.Join(b.writer.Close(), b.reader.Close())
}

func encodeEnvelope(env relay.Envelope) ([]byte, error) {
	if env.Target == "" {
		return nil, errors.New("kafka: envelope without target")
	}
	return json.Marshal(env)
}

func decodeEnvelope(value []byte) (relay.Envelope, error) {
	var env relay.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return relay.Envelope{}, err
	}
	if env.Target == "" || env.Frame.Event == "" {
		return relay.Envelope{}, errors.New("kafka: incomplete envelope")
	}
	return env, nil
}

func consumerGroup(instanceID string) string {
	return "relay-" + instanceID
}

func splitBrokers(hostPort string) []string {
	var out []string
	for _, b := range strings.Split(hostPort, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
