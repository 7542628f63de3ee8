// Package model 订单读模型文档
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusOpen   OrderStatus = "open"
	OrderStatusClosed OrderStatus = "closed"
)

// ProjectionCursor 聚合级投影游标
//
// 嵌入每个读模型文档。写入当且仅当新事件的排序键大于已存游标，
// 否则为幂等 no-op（重复或过期投递）。
type ProjectionCursor struct {
	OrderingKey int64     `json:"ordering_key" bson:"ordering_key"`
	EventID     string    `json:"event_id" bson:"event_id"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
	RunID       string    `json:"run_id,omitempty" bson:"run_id,omitempty"` // 回放/回补时记录来源
}

// Projection 投影元数据块
type Projection struct {
	Cursor    ProjectionCursor `json:"cursor" bson:"cursor"`
	StateHash string           `json:"state_hash,omitempty" bson:"state_hash,omitempty"`
}

// OrderDoc 订单读模型文档
//
// 文档 _id 为 aggregate_id，按版本存放于 orders_v<N> 集合。
// 业务字段由投影逻辑产生；活跃流量只追加/更新，不删除。
type OrderDoc struct {
	ID          string      `json:"id" bson:"_id"`
	TenantID    string      `json:"tenant_id" bson:"tenant_id"`
	Symbol      string      `json:"symbol" bson:"symbol"`
	Side        string      `json:"side" bson:"side"`
	Qty         float64     `json:"qty" bson:"qty"`
	Price       float64     `json:"price" bson:"price"`
	Currency    string      `json:"currency" bson:"currency"`
	Status      OrderStatus `json:"status" bson:"status"`
	CloseReason string      `json:"close_reason,omitempty" bson:"close_reason,omitempty"`
	OpenedAt    time.Time   `json:"opened_at" bson:"opened_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
	Projection  Projection  `json:"projection" bson:"projection"`
}

// StateHash 计算业务字段的稳定哈希（用于对账）
//
// 只覆盖业务字段，不包含 projection 元数据，
// 字段顺序固定以保证跨回放的可重复性。
func (d *OrderDoc) StateHash() string {
	closedAt := ""
	if d.ClosedAt != nil {
		closedAt = d.ClosedAt.UTC().Format(time.RFC3339Nano)
	}
	s := fmt.Sprintf("%s|%s|%s|%s|%.8f|%.8f|%s|%s|%s|%s|%s",
		d.ID, d.TenantID, d.Symbol, d.Side, d.Qty, d.Price, d.Currency,
		d.Status, d.CloseReason, d.OpenedAt.UTC().Format(time.RFC3339Nano), closedAt)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
