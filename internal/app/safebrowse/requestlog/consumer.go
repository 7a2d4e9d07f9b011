package requestlog

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultBatchSize = 100
	defaultInterval  = time.Second
)

// Consumer 从 ChannelCollector 读事件，按数量或时间批量写入 Sink
type Consumer struct {
	sink      Sink
	events    <-chan Entry
	batchSize int
	interval  time.Duration
}

func NewConsumer(sink Sink, collector *ChannelCollector) *Consumer {
	return &Consumer{
		sink:      sink,
		events:    collector.Events(),
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
	}
}

// Run 阻塞，直到 ctx 结束或 collector 关闭；退出前写完剩余事件
func (c *Consumer) Run(ctx context.Context) {
	runBatches(ctx, c.events, c.sink, c.batchSize, c.interval)
}

func runBatches(ctx context.Context, events <-chan Entry, sink Sink, batchSize int, interval time.Duration) {
	batch := make([]Entry, 0, batchSize)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flush(sink, batch)
			return
		case e, ok := <-events:
			if !ok {
				flush(sink, batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush(sink, batch)
				batch = batch[:0] //清空切片，保留容量
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush(sink, batch)
				batch = batch[:0]
			}
		}
	}
}

func flush(sink Sink, batch []Entry) {
	if len(batch) == 0 {
		return
	}
	// 用独立 ctx：退出时 Run 的 ctx 已经取消
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sink.InsertBatch(ctx, batch); err != nil {
		slog.Error("request log: flush failed", "err", err, "count", len(batch))
		return
	}
	slog.Debug("request log: flushed", "count", len(batch))
}
