// Package projection 纯投影函数：决策 + 业务变更
package projection

import (
	"fmt"

	"event-pipeline/internal/model"
)

// Decide 根据已存文档和新事件判定应用结果
//
// 规则：
//   - 排序键 == 游标 → Duplicate；< 游标 → Stale（均为幂等 no-op）
//   - 携带 Sequence 的事件要求聚合内连续（从 1 开始）：
//     出现空洞时返回 Gap，由 broker 重投补齐，保证乱序到达
//     与按序到达收敛到同一最终状态
//   - 缺失 Sequence 的事件退化为 occurred_at 排序，无法检测空洞，
//     仅能保证"不回退"，文档尚不存在时非 created 事件按 Gap 等待
func Decide(doc *model.OrderDoc, e *model.CanonicalEvent) Outcome {
	key := e.OrderingKey()

	if doc == nil {
		if e.HasSequence() {
			if e.Sequence > 1 {
				return OutcomeGap
			}
			return OutcomeApplied
		}
		if e.EventType != model.EventOrderCreated {
			return OutcomeGap
		}
		return OutcomeApplied
	}

	stored := doc.Projection.Cursor.OrderingKey
	switch {
	case key == stored:
		return OutcomeDuplicate
	case key < stored:
		return OutcomeStale
	}

	if e.HasSequence() && key > stored+1 {
		return OutcomeGap
	}
	return OutcomeApplied
}

// Next 计算应用事件后的下一份文档状态
//
// 纯函数：不触碰存储，输入文档不被修改（nil 表示文档尚不存在）。
// payload 必须是 schema 注册表升级后的当前内存形状。
func Next(doc *model.OrderDoc, e *model.CanonicalEvent, payload any, runID string) (*model.OrderDoc, error) {
	var next model.OrderDoc
	if doc != nil {
		next = *doc
	} else {
		next = model.OrderDoc{
			ID:       e.AggregateID,
			TenantID: e.TenantID,
		}
	}

	switch p := payload.(type) {
	case model.OrderCreatedV2:
		next.Symbol = p.Symbol
		next.Side = p.Side
		next.Qty = p.Qty
		next.Price = p.Price
		next.Currency = p.Currency
		next.Status = model.OrderStatusOpen
		next.OpenedAt = e.OccurredAt.UTC()

	case model.OrderUpdatedV1:
		if p.Qty != nil {
			next.Qty = *p.Qty
		}
		if p.Price != nil {
			next.Price = *p.Price
		}

	case model.OrderClosedV1:
		next.Status = model.OrderStatusClosed
		next.CloseReason = p.Reason
		closedAt := e.OccurredAt.UTC()
		next.ClosedAt = &closedAt

	default:
		return nil, fmt.Errorf("no projection rule for payload type %T (%s)", payload, e.EventType)
	}

	next.Projection.Cursor = model.ProjectionCursor{
		OrderingKey: e.OrderingKey(),
		EventID:     e.EventID,
		UpdatedAt:   e.OccurredAt.UTC(),
		RunID:       runID,
	}
	next.Projection.StateHash = next.StateHash()

	return &next, nil
}
