// Package model 定义流水线核心数据模型
//
// CanonicalEvent 是唯一事实来源：一次产生、不可变更，
// 保留在 broker 与归档中。读模型完全由事件投影派生。
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 聚合类型
const (
	AggregateOrder = "order"
)

// 事件类型（封闭集合，路由表据此分发）
const (
	EventOrderCreated = "order.created"
	EventOrderUpdated = "order.updated"
	EventOrderClosed  = "order.closed"
)

// CanonicalEvent 规范事件
//
// 字段说明：
//   - EventID: 全局唯一标识，去重键
//   - EventType: 稳定的符号名（如 order.created）
//   - SchemaVersion: payload 形状版本，选择对应的 upcaster
//   - OccurredAt: 业务时间戳（权威排序提示）
//   - IngestedAt: 系统接收时间戳（仅用于监控）
//   - Sequence: 聚合内单调递增序号；0 表示缺失，此时退化为
//     OccurredAt 排序（时钟偏移下排序保证减弱，见 OrderingKey）
type CanonicalEvent struct {
	EventID       string          `json:"event_id" bson:"event_id"`
	EventType     string          `json:"event_type" bson:"event_type"`
	SchemaVersion int             `json:"schema_version" bson:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at" bson:"occurred_at"`
	IngestedAt    time.Time       `json:"ingested_at,omitempty" bson:"ingested_at,omitempty"`
	TenantID      string          `json:"tenant_id" bson:"tenant_id"`
	AggregateType string          `json:"aggregate_type" bson:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id" bson:"aggregate_id"`
	Sequence      int64           `json:"sequence,omitempty" bson:"sequence,omitempty"`
	TraceID       string          `json:"trace_id,omitempty" bson:"trace_id,omitempty"`
	Payload       json.RawMessage `json:"payload" bson:"payload"`
}

// 校验错误
var (
	ErrMissingEventID    = errors.New("event_id is required")
	ErrMissingEventType  = errors.New("event_type is required")
	ErrMissingTenant     = errors.New("tenant_id is required")
	ErrMissingAggregate  = errors.New("aggregate_type and aggregate_id are required")
	ErrMissingOccurredAt = errors.New("occurred_at is required")
	ErrMissingPayload    = errors.New("payload is required")
	ErrInvalidSchemaV    = errors.New("schema_version must be >= 1")
	ErrNegativeSequence  = errors.New("sequence must not be negative")
)

// Validate 本地校验必填字段（不发起网络调用）
func (e *CanonicalEvent) Validate() error {
	if e.EventID == "" {
		return ErrMissingEventID
	}
	if e.EventType == "" {
		return ErrMissingEventType
	}
	if e.SchemaVersion < 1 {
		return ErrInvalidSchemaV
	}
	if e.TenantID == "" {
		return ErrMissingTenant
	}
	if e.AggregateType == "" || e.AggregateID == "" {
		return ErrMissingAggregate
	}
	if e.OccurredAt.IsZero() {
		return ErrMissingOccurredAt
	}
	if len(e.Payload) == 0 {
		return ErrMissingPayload
	}
	if e.Sequence < 0 {
		return ErrNegativeSequence
	}
	return nil
}

// HasSequence 事件是否携带聚合内序号
func (e *CanonicalEvent) HasSequence() bool {
	return e.Sequence > 0
}

// OrderingKey 返回用于游标比较的排序键
//
// 携带 Sequence 的事件直接使用序号；缺失时退化为 OccurredAt
// 的 UnixNano。两种键不混用：同一聚合的全部事件应统一携带或
// 统一缺失 Sequence，混用会破坏单调性保证。
func (e *CanonicalEvent) OrderingKey() int64 {
	if e.HasSequence() {
		return e.Sequence
	}
	return e.OccurredAt.UnixNano()
}

// String 返回事件摘要
func (e *CanonicalEvent) String() string {
	return fmt.Sprintf("%s(%s/%s seq=%d v%d)", e.EventType, e.AggregateType, e.AggregateID, e.Sequence, e.SchemaVersion)
}
