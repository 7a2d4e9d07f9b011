package requestlog

import (
	"context"
	"sync"
	"time"

	"safebrowse.local/internal/platform/metrics"
)

// Entry 是一次 HTTP 请求的记录
type Entry struct {
	ID         int64     `json:"id,omitempty"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Route      string    `json:"route"`
	ClientID   string    `json:"client_id"`
	Status     int       `json:"status"`
	LatencyMS  int64     `json:"latency_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Collector 收集器接口，channel 和 Kafka 两种实现
type Collector interface {
	Collect(entry Entry)
	Close()
}

// Sink 批量落库
type Sink interface {
	InsertBatch(ctx context.Context, entries []Entry) error
}

// ChannelCollector 基于 channel 的收集器，满了直接丢弃，不阻塞请求
type ChannelCollector struct {
	mu     sync.RWMutex
	ch     chan Entry
	closed bool
}

func NewChannelCollector(bufferSize int) *ChannelCollector {
	return &ChannelCollector{ch: make(chan Entry, bufferSize)}
}

func (c *ChannelCollector) Collect(entry Entry) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		metrics.RequestLogDropped.Inc()
		return
	}
	select {
	case c.ch <- entry:
	default:
		metrics.RequestLogDropped.Inc()
	}
}

func (c *ChannelCollector) Events() <-chan Entry {
	return c.ch
}

// Close 之后 Collect 变成空操作；可以重复调用
func (c *ChannelCollector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}
