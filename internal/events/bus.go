package events

import (
	"sync"

	"coder-cli/internal/logger"
)

var log = logger.Named("events")

const defaultBuffer = 32

// Bus 是进程内的简单发布订阅；慢订阅者会丢事件而不是阻塞发布方。
type Bus struct {
	mu      sync.Mutex
	subs    []chan any
	closed  bool
	dropped int
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe() <-chan any {
	return b.SubscribeBuffered(defaultBuffer)
}

// SubscribeBuffered 允许需要可靠送达的订阅者（如确认请求）使用更大的缓冲。
func (b *Bus) SubscribeBuffered(size int) <-chan any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan any)
		close(ch)
		return ch
	}
	if size <= 0 {
		size = defaultBuffer
	}
	ch := make(chan any, size)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(evt any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped++
			log.WithField("dropped", b.dropped).Warnf("subscriber buffer full, dropping %T", evt)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		close(ch)
	}
	b.closed = true
}
