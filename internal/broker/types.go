// Package broker 消息类型定义
package broker

import (
	"time"

	"event-pipeline/internal/model"
)

// Delivery 一次投递：broker 消息 + 投递元信息
type Delivery struct {
	// StreamID broker 内部消息 ID（Redis Streams 为 ms 时间戳格式，用于 Ack）
	StreamID string
	// Envelope 业务信封
	Envelope *model.BrokerEnvelope
	// Deliveries 投递次数（含本次）；超过上限的消息应入死信
	Deliveries int
	// DeliveredAt broker 侧投递时间
	DeliveredAt time.Time
}
