// Package projection 投影执行器：CAS 写入循环
package projection

import (
	"context"
	"errors"
	"fmt"

	"event-pipeline/internal/metrics"
	"event-pipeline/internal/model"
	"event-pipeline/internal/readmodel"
	"event-pipeline/internal/schema"
	"event-pipeline/pkg/logging"
)

// CAS 重试上限：同一聚合上并发写入方（实时消费 + 回放）竞争时，
// 失败方重读游标重试；超过上限视为异常竞争上报
const casMaxRetries = 5

// ErrCursorContention CAS 重试耗尽
var ErrCursorContention = errors.New("cursor contention: CAS retries exhausted")

// Store 投影执行器依赖的读模型写入能力
//
// 由 readmodel.Store 实现；接口收窄到投影所需的三个操作，
// 便于作业 dry-run 与测试替身。
type Store interface {
	// GetOrder 读取文档；不存在时返回 (nil, nil)
	GetOrder(ctx context.Context, version int, id string) (*model.OrderDoc, error)
	// InsertOrder 插入新文档；并发创建竞争返回 readmodel.ErrDuplicate
	InsertOrder(ctx context.Context, version int, doc *model.OrderDoc) error
	// ReplaceOrderIf 仅当已存游标排序键等于 prevKey 时整体替换文档，
	// 返回是否命中（compare-and-swap）
	ReplaceOrderIf(ctx context.Context, version int, doc *model.OrderDoc, prevKey int64) (bool, error)
}

// DedupStore 可选的短 TTL 消息级去重
type DedupStore interface {
	SeenMessage(ctx context.Context, messageID string) (bool, error)
	MarkMessage(ctx context.Context, messageID string) error
}

// Governor 写入限流器（只延迟、不拒绝）
type Governor interface {
	WaitWrite(ctx context.Context, aggregateID string) error
}

// Projector 幂等投影执行器
type Projector struct {
	registry *schema.Registry
	store    Store
	dedup    DedupStore       // 可选
	governor Governor         // 可选
	metrics  *metrics.Metrics // 可选
	logger   *logging.Logger
}

// NewProjector 创建投影执行器
func NewProjector(registry *schema.Registry, store Store, opts ...Option) *Projector {
	p := &Projector{
		registry: registry,
		store:    store,
		logger:   logging.Default("projection"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Option Projector 可选依赖
type Option func(*Projector)

// WithDedup 启用消息级去重记录
func WithDedup(d DedupStore) Option {
	return func(p *Projector) { p.dedup = d }
}

// WithGovernor 启用写入限流
func WithGovernor(g Governor) Option {
	return func(p *Projector) { p.governor = g }
}

// WithMetrics 启用指标上报
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Projector) { p.metrics = m }
}

// WithLogger 替换日志器
func WithLogger(l *logging.Logger) Option {
	return func(p *Projector) { p.logger = l }
}

// ApplyOptions 单次应用参数
type ApplyOptions struct {
	Version int    // 目标读模型版本
	RunID   string // 回放/回补来源标识，实时消费为空
	DryRun  bool   // 只计算不写入
}

// Apply 将事件幂等应用到目标版本的读模型
//
// 流程：
//  1. 限流等待（如启用）
//  2. 去重记录短路（如启用）
//  3. 读游标 → 判定 → 计算新状态 → 条件写入；
//     CAS 未命中说明有并发写入方推进了游标，重读重试
//
// 返回的 Outcome 为 Duplicate/Stale 时是正常的幂等 no-op；
// Gap 表示需等待缺失事件重投；错误均为存储/配置类故障。
func (p *Projector) Apply(ctx context.Context, e *model.CanonicalEvent, opt ApplyOptions) (Outcome, error) {
	if p.governor != nil && !opt.DryRun {
		if err := p.governor.WaitWrite(ctx, e.AggregateID); err != nil {
			return 0, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if p.dedup != nil {
		seen, err := p.dedup.SeenMessage(ctx, e.EventID)
		if err != nil {
			return 0, fmt.Errorf("dedup lookup: %w", err)
		}
		if seen {
			p.record(e, OutcomeDuplicate)
			return OutcomeDuplicate, nil
		}
	}

	payload, err := p.registry.Decode(e)
	if err != nil {
		return 0, err
	}

	for attempt := 0; attempt < casMaxRetries; attempt++ {
		doc, err := p.store.GetOrder(ctx, opt.Version, e.AggregateID)
		if err != nil {
			return 0, fmt.Errorf("read cursor for %s: %w", e.AggregateID, err)
		}

		outcome := Decide(doc, e)
		if outcome != OutcomeApplied {
			p.record(e, outcome)
			return outcome, nil
		}

		next, err := Next(doc, e, payload, opt.RunID)
		if err != nil {
			return 0, err
		}

		if opt.DryRun {
			p.record(e, OutcomeApplied)
			return OutcomeApplied, nil
		}

		if doc == nil {
			err = p.store.InsertOrder(ctx, opt.Version, next)
			if errors.Is(err, readmodel.ErrDuplicate) {
				continue // 并发创建，重读游标
			}
			if err != nil {
				return 0, fmt.Errorf("insert %s: %w", e.AggregateID, err)
			}
		} else {
			swapped, err := p.store.ReplaceOrderIf(ctx, opt.Version, next, doc.Projection.Cursor.OrderingKey)
			if err != nil {
				return 0, fmt.Errorf("replace %s: %w", e.AggregateID, err)
			}
			if !swapped {
				continue // 游标已被并发推进，重读重试
			}
		}

		if p.dedup != nil {
			if err := p.dedup.MarkMessage(ctx, e.EventID); err != nil {
				// 去重记录是防线而非正确性来源，失败仅告警
				p.logger.WithError(err).Warn("mark dedup record failed", "event_id", e.EventID)
			}
		}

		p.record(e, OutcomeApplied)
		p.logger.ApplyLog("applied", e.AggregateID, e.EventID, e.OrderingKey())
		return OutcomeApplied, nil
	}

	return 0, fmt.Errorf("%w: aggregate=%s", ErrCursorContention, e.AggregateID)
}

// record 上报投影结果：日志与指标各自独立
func (p *Projector) record(e *model.CanonicalEvent, outcome Outcome) {
	if outcome == OutcomeDuplicate || outcome == OutcomeStale {
		p.logger.ApplyLog(outcome.String(), e.AggregateID, e.EventID, e.OrderingKey())
	}
	if p.metrics != nil {
		p.metrics.RecordProjection(e.EventType, outcome.String())
	}
}
