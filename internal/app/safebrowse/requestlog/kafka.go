package requestlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"safebrowse.local/internal/platform/metrics"
)

type KafkaCollector struct {
	writer *kafka.Writer
}

func NewKafkaCollector(brokers []string, topic string) *KafkaCollector {
	return &KafkaCollector{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
			Async:    true, // 异步发送，不拖慢请求
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					metrics.RequestLogDropped.Add(float64(len(messages)))
					slog.Error("kafka write failed", "err", err, "count", len(messages))
				}
			},
		},
	}
}

func (k *KafkaCollector) Collect(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		metrics.RequestLogDropped.Inc()
		return
	}
	// 同一 client 的请求落在同一分区，保持顺序
	if err := k.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(entry.ClientID),
		Value: data,
	}); err != nil {
		metrics.RequestLogDropped.Inc()
		slog.Error("kafka enqueue failed", "err", err)
	}
}

func (k *KafkaCollector) Close() {
	if err := k.writer.Close(); err != nil {
		slog.Warn("kafka writer close failed", "err", err)
	}
}

type KafkaConsumer struct {
	reader    *kafka.Reader
	sink      Sink
	batchSize int
	interval  time.Duration
}

func NewKafkaConsumer(brokers []string, topic string, sink Sink) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  "request-log-consumer",
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		sink:      sink,
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
	}
}

func (k *KafkaConsumer) Run(ctx context.Context) {
	events := make(chan Entry, k.batchSize)

	// 读取协程：ReadMessage 会阻塞，单独跑，ctx 结束后关闭 events
	go func() {
		defer close(events)
		for {
			msg, err := k.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("kafka read failed", "err", err)
				continue
			}
			var e Entry
			if err := json.Unmarshal(msg.Value, &e); err != nil {
				slog.Error("request log: bad kafka message", "err", err, "offset", msg.Offset)
				continue
			}
			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	runBatches(ctx, events, k.sink, k.batchSize, k.interval)
}

func (k *KafkaConsumer) Close() {
	if err := k.reader.Close(); err != nil {
		slog.Warn("kafka reader close failed", "err", err)
	}
}
