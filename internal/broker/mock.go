// Package broker 内存 broker 实现（用于测试）
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"event-pipeline/internal/model"
)

// ============================================================================
// MemoryBroker - 进程内 Broker 实现，语义与 Redis Streams 实现对齐
// ============================================================================

type memEntry struct {
	id  string
	ms  int64
	env *model.BrokerEnvelope
	seq int64
}

type memGroup struct {
	next    int            // 下一条未投递消息的下标
	pending map[string]int // streamID → 投递次数
	order   []string       // pending 的插入顺序
}

// MemoryBroker 进程内 broker
type MemoryBroker struct {
	mu      sync.Mutex
	entries []memEntry
	groups  map[string]*memGroup
	dlq     []memEntry
	seq     int64
	// PublishErr 非 nil 时 Publish 返回该错误（故障注入）
	PublishErr error
}

// NewMemoryBroker 创建内存 broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{groups: map[string]*memGroup{}}
}

// Publish 追加消息
func (b *MemoryBroker) Publish(ctx context.Context, env *model.BrokerEnvelope) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PublishErr != nil {
		return "", b.PublishErr
	}
	b.seq++
	ms := env.PublishTime.UnixMilli()
	if ms <= 0 {
		ms = time.Now().UnixMilli()
	}
	e := memEntry{id: fmt.Sprintf("%d-%d", ms, b.seq), ms: ms, env: env, seq: b.seq}
	b.entries = append(b.entries, e)
	return e.id, nil
}

// EnsureGroup 创建消费者组（幂等）
func (b *MemoryBroker) EnsureGroup(ctx context.Context, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.group(group)
	return nil
}

func (b *MemoryBroker) group(name string) *memGroup {
	g, ok := b.groups[name]
	if !ok {
		g = &memGroup{pending: map[string]int{}}
		b.groups[name] = g
	}
	return g
}

// Consume 读取新消息并置入 pending
func (b *MemoryBroker) Consume(ctx context.Context, group, consumerID string, count int64, block time.Duration) ([]*Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g := b.group(group)
	var out []*Delivery
	for g.next < len(b.entries) && int64(len(out)) < count {
		e := b.entries[g.next]
		g.next++
		g.pending[e.id] = 1
		g.order = append(g.order, e.id)
		out = append(out, &Delivery{StreamID: e.id, Envelope: e.env, Deliveries: 1, DeliveredAt: time.Now()})
	}
	return out, nil
}

// Claim 重投全部 pending 消息并递增投递计数（忽略 minIdle，测试用）
func (b *MemoryBroker) Claim(ctx context.Context, group, consumerID string, minIdle time.Duration, count int64) ([]*Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g := b.group(group)
	var out []*Delivery
	for _, id := range g.order {
		if int64(len(out)) >= count {
			break
		}
		n, ok := g.pending[id]
		if !ok {
			continue
		}
		g.pending[id] = n + 1
		if e, found := b.find(id); found {
			out = append(out, &Delivery{StreamID: id, Envelope: e.env, Deliveries: n + 1, DeliveredAt: time.Now()})
		}
	}
	return out, nil
}

func (b *MemoryBroker) find(id string) (memEntry, bool) {
	for _, e := range b.entries {
		if e.id == id {
			return e, true
		}
	}
	return memEntry{}, false
}

// Ack 确认消息
func (b *MemoryBroker) Ack(ctx context.Context, group, streamID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.group(group).pending, streamID)
	return nil
}

// PendingCount 未确认数量
func (b *MemoryBroker) PendingCount(ctx context.Context, group string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.group(group).pending)), nil
}

// DeadLetter 移入死信并确认
func (b *MemoryBroker) DeadLetter(ctx context.Context, group string, d *Delivery, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.find(d.StreamID); ok {
		b.dlq = append(b.dlq, e)
	}
	delete(b.group(group).pending, d.StreamID)
	return nil
}

// DeadLetterLen 死信长度
func (b *MemoryBroker) DeadLetterLen(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.dlq)), nil
}

// DeadLettered 返回死信中的信封（测试断言用）
func (b *MemoryBroker) DeadLettered() []*model.BrokerEnvelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*model.BrokerEnvelope, 0, len(b.dlq))
	for _, e := range b.dlq {
		out = append(out, e.env)
	}
	return out
}

// ReadWindow 按发布时间窗口分页回读
func (b *MemoryBroker) ReadWindow(ctx context.Context, start, end time.Time, afterID string, count int64) ([]*Delivery, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	var out []*Delivery
	passed := afterID == ""
	for _, e := range b.entries {
		if !passed {
			if e.id == afterID {
				passed = true
			}
			continue
		}
		if e.ms < startMs || e.ms >= endMs {
			continue
		}
		out = append(out, &Delivery{StreamID: e.id, Envelope: e.env, Deliveries: 1, DeliveredAt: time.Now()})
		if int64(len(out)) >= count {
			return out, e.id, nil
		}
	}
	return out, "", nil
}

// Oldest 最老消息发布时间
func (b *MemoryBroker) Oldest(ctx context.Context) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(b.entries[0].ms), nil
}

// Len 主题长度
func (b *MemoryBroker) Len(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.entries)), nil
}

// Close 关闭
func (b *MemoryBroker) Close() error {
	return nil
}

// 确保 MemoryBroker 实现了 Broker 接口
var _ Broker = (*MemoryBroker)(nil)
