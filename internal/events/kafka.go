package events

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"solbase-engine/internal/engine"
	"solbase-engine/pkg/utils"
)

const DefaultKafkaBuffer = 4096

// KafkaSink publishes trades to a topic keyed by pair. OnTrade never
// blocks the matcher; trades are queued and a full queue drops the trade.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	queue    chan engine.Trade
	dropped  atomic.Int64
}

type tradeEvent struct {
	Type string `json:"type"`
	engine.Trade
}

func NewKafkaSink(brokers []string, topic string, buffer int) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaSinkWithProducer(producer, topic, buffer), nil
}

func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string, buffer int) *KafkaSink {
	if buffer <= 0 {
		buffer = DefaultKafkaBuffer
	}
	return &KafkaSink{
		producer: producer,
		topic:    topic,
		queue:    make(chan engine.Trade, buffer),
	}
}

func (k *KafkaSink) OnTrade(t engine.Trade) {
	select {
	case k.queue <- t:
	default:
		k.dropped.Add(1)
		utils.Logger.WithFields(logrus.Fields{
			"pair":          t.Pair,
			"buy_order_id":  t.BuyOrderID,
			"sell_order_id": t.SellOrderID,
		}).Warn("Kafka queue full, trade dropped")
	}
}

// Run publishes queued trades until ctx is done, then flushes what is
// still queued.
func (k *KafkaSink) Run(ctx context.Context) {
	for {
		select {
		case t := <-k.queue:
			k.publish(t)
		case <-ctx.Done():
			for {
				select {
				case t := <-k.queue:
					k.publish(t)
				default:
					return
				}
			}
		}
	}
}

func (k *KafkaSink) Dropped() int64 {
	return k.dropped.Load()
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}

func (k *KafkaSink) publish(t engine.Trade) {
	payload, err := json.Marshal(tradeEvent{Type: "trade", Trade: t})
	if err != nil {
		utils.LogError(err, "Failed to encode trade")
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(t.Pair),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		utils.LogError(err, "Failed to publish trade")
	}
}
