// Package emitter publishes banknote lifecycle events. Events never carry
// bearer secrets.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/banknote-go/agreement"
)

type Config struct {
	Brokers []string
	Topic   string
}

// New returns a KafkaEmitter if brokers are configured and a LogEmitter
// otherwise.
func New(cfg *Config) agreement.Emitter {
	if cfg == nil || len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return &LogEmitter{}
	}
	return NewKafkaEmitter(cfg.Brokers, cfg.Topic)
}

// KafkaEmitter writes events to a topic keyed by tx hash, so that all
// events of one tx land on the same partition.
type KafkaEmitter struct {
	writer *kafka.Writer
	mu     sync.Mutex
}

func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (k *KafkaEmitter) Emit(ctx context.Context, ev *agreement.LifecycleEvent) error {
	msg, err := toMessage(ev)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer == nil {
		return fmt.Errorf("emitter closed")
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %v", err)
	}

	logger.WithFields(logger.Fields{
		"kind":   ev.Kind,
		"txHash": ev.TxHash,
	}).Debug("emitted lifecycle event")
	return nil
}

func (k *KafkaEmitter) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		err := k.writer.Close()
		k.writer = nil
		return err
	}
	return nil
}

// LogEmitter writes events to the log at info level.
type LogEmitter struct{}

func (LogEmitter) Emit(ctx context.Context, ev *agreement.LifecycleEvent) error {
	prepare(ev)
	logger.WithFields(logger.Fields{
		"id":          ev.ID,
		"kind":        ev.Kind,
		"txHash":      ev.TxHash,
		"banknoteId":  ev.BanknoteID,
		"assetSymbol": ev.AssetSymbol,
		"amount":      ev.Amount,
		"account":     ev.Account,
	}).Info("banknote lifecycle event")
	return nil
}

func (LogEmitter) Close() error { return nil }

// prepare fills the id and timestamp if the caller left them empty.
func prepare(ev *agreement.LifecycleEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
}

func toMessage(ev *agreement.LifecycleEvent) (kafka.Message, error) {
	prepare(ev)
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %v", err)
	}
	return kafka.Message{
		Key:   []byte(ev.TxHash),
		Value: value,
		Time:  ev.Timestamp,
	}, nil
}
