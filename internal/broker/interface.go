// Package broker 消息 broker 抽象接口
//
// 提供主题发布、消费者组消费、死信路由和按时间窗口回读的能力，
// 当前由 Redis Streams 实现。at-least-once 投递：消息在 Ack 前
// 停留在 pending 列表，消费方崩溃后由认领机制重投。
package broker

import (
	"context"
	"time"

	"event-pipeline/internal/model"
)

// ============================================================================
// broker 接口定义
// ============================================================================

// Publisher 发布接口
type Publisher interface {
	// Publish 将信封追加到主题，返回 broker 消息 ID
	Publish(ctx context.Context, env *model.BrokerEnvelope) (string, error)
}

// Subscription 订阅消费接口（消费者组语义）
type Subscription interface {
	// EnsureGroup 创建消费者组（幂等）
	EnsureGroup(ctx context.Context, group string) error
	// Consume 以指定消费者身份读取新消息；无消息时返回 (nil, nil)
	Consume(ctx context.Context, group, consumerID string, count int64, block time.Duration) ([]*Delivery, error)
	// Claim 认领 pending 超过 minIdle 的消息（崩溃重投）
	Claim(ctx context.Context, group, consumerID string, minIdle time.Duration, count int64) ([]*Delivery, error)
	// Ack 确认消息已处理
	Ack(ctx context.Context, group, streamID string) error
	// PendingCount 未确认消息数量
	PendingCount(ctx context.Context, group string) (int64, error)
}

// DeadLetterer 死信路由接口
type DeadLetterer interface {
	// DeadLetter 将消息发往死信主题并从原主题确认
	DeadLetter(ctx context.Context, group string, d *Delivery, reason string) error
	// DeadLetterLen 死信主题长度
	DeadLetterLen(ctx context.Context) (int64, error)
}

// WindowReader 按时间窗口回读主题历史（回放用，独立于消费者组）
type WindowReader interface {
	// ReadWindow 分页读取 [start, end) 窗口内的消息；
	// afterID 为空从窗口起点开始，返回下一页起始 ID（空串表示读尽）
	ReadWindow(ctx context.Context, start, end time.Time, afterID string, count int64) ([]*Delivery, string, error)
	// OldestID 主题中最老消息的 ID（判断窗口是否仍在保留期内）
	Oldest(ctx context.Context) (time.Time, error)
}

// Broker 组合接口
type Broker interface {
	Publisher
	Subscription
	DeadLetterer
	WindowReader
	Len(ctx context.Context) (int64, error)
	Close() error
}
