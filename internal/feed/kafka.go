package feed

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/labstack/gommon/log"
	"github.com/segmentio/kafka-go"

	"rcm-reconciliation-backend/internal/services/claims"
)

const maxBatch = 100

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter hashes on the message key so every event of one claim lands
// on the same partition, in order.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// KafkaSink forwards one hub subscription to a Kafka topic.
type KafkaSink struct {
	writer MessageWriter
	sub    *Subscription
}

func NewKafkaSink(w MessageWriter, sub *Subscription) *KafkaSink {
	return &KafkaSink{writer: w, sub: sub}
}

func messageKey(ev claims.ChangeEvent) []byte {
	return []byte(ev.TenantID + "/" + ev.ClaimID)
}

func encode(ev claims.ChangeEvent) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   messageKey(ev),
		Value: data,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}, nil
}

// Run publishes events until ctx is done or the subscription is closed.
// Events already buffered are sent together in one write.
func (k *KafkaSink) Run(ctx context.Context) error {
	for {
		var ev claims.ChangeEvent
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok = <-k.sub.C():
			if !ok {
				return nil
			}
		}

		batch := []claims.ChangeEvent{ev}
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-k.sub.C():
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		msgs := make([]kafka.Message, 0, len(batch))
		for _, ev := range batch {
			msg, err := encode(ev)
			if err != nil {
				log.Errorf("[Feed] encode %s/%s: %v", ev.TenantID, ev.ClaimID, err)
				continue
			}
			msgs = append(msgs, msg)
		}
		if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			log.Errorf("[Feed] write %d change events: %v", len(msgs), err)
			continue
		}
		log.Debugf("[Feed] published %d change events", len(msgs))
	}
}

// Close unsubscribes and closes the writer.
func (k *KafkaSink) Close() error {
	k.sub.Close()
	return k.writer.Close()
}
