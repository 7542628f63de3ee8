// Package jobs 运维作业：回放、回补、对账、切换
//
// 所有作业共享同一个执行骨架：显式有界范围校验 → KillSwitch 门控
// （启动时 + 每批次之间）→ 审计落库 → 通过幂等投影执行器写入 →
// 运行报告归档。作业与实时消费共用投影核心，语义保证完全一致。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"event-pipeline/internal/archive"
	"event-pipeline/internal/broker"
	"event-pipeline/internal/config"
	"event-pipeline/internal/controls"
	"event-pipeline/internal/metrics"
	"event-pipeline/internal/model"
	"event-pipeline/internal/projection"
	"event-pipeline/internal/ratelimit"
	"event-pipeline/internal/schema"
	"event-pipeline/pkg/logging"

	"github.com/google/uuid"
)

// 报告中保留的错误样本上限
const maxErrorSamples = 50

// 批间缺口重试轮数：窗口内乱序事件经排序后仍可能跨批依赖，
// 全量扫完后对缺口事件补几轮即可收敛
const gapRetryPasses = 3

var (
	// ErrUnboundedScope 范围未显式有界
	ErrUnboundedScope = errors.New("job scope must be bounded: time window and at least one tenant required")
	// ErrKillSwitchEngaged KillSwitch 已触发
	ErrKillSwitchEngaged = errors.New("kill switch engaged")
	// ErrWindowBeyondRetention 窗口起点早于 broker 保留期
	ErrWindowBeyondRetention = errors.New("window predates broker retention, use backfill from archive")
	// ErrTargetVersionActive 目标版本正在服务实时读流量
	ErrTargetVersionActive = errors.New("target version serves live reads, re-run with allow-active to override")
)

// ReadModels 作业所需的读模型控制面能力
//
// 由 readmodel.Store 实现。
type ReadModels interface {
	GetOrder(ctx context.Context, version int, id string) (*model.OrderDoc, error)
	CountOrders(ctx context.Context, version int, tenantID string) (int64, error)
	SampleOrderIDs(ctx context.Context, version int, n int) ([]string, error)
	ExistsOrder(ctx context.Context, version int, id string) (bool, error)
	HasVersionIndexes(ctx context.Context, version int) (bool, error)
	GetPointer(ctx context.Context, aggregateType string) (*model.ReadModelPointer, error)
	SetPointer(ctx context.Context, p *model.ReadModelPointer) error
}

// ReportWriter 运行报告归档接口（由 archive.Client 实现）
type ReportWriter interface {
	PutReport(ctx context.Context, runID string, report any) error
}

// Auditor 作业审计接口（由 jobaudit.Store 实现）
type Auditor interface {
	StartRun(ctx context.Context, runID, kind string, scope model.JobScope, dryRun bool) error
	FinishRun(ctx context.Context, runID, status string, report *model.JobReport) error
}

// Runner 作业执行器
type Runner struct {
	projector *projection.Projector
	registry  *schema.Registry
	readModel ReadModels
	window    broker.WindowReader
	archive   archive.Reader
	reports   ReportWriter // 可选
	kills     controls.KillSwitches
	audit     Auditor // 可选
	cfg       config.JobsConfig
	metrics   *metrics.Metrics // 可选
	logger    *logging.Logger
}

// Option Runner 可选依赖
type Option func(*Runner)

// WithReports 启用报告归档
func WithReports(w ReportWriter) Option {
	return func(r *Runner) { r.reports = w }
}

// WithAudit 启用作业审计
func WithAudit(a Auditor) Option {
	return func(r *Runner) { r.audit = a }
}

// WithMetrics 注入指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger 注入日志器
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner 创建作业执行器
func NewRunner(projector *projection.Projector, registry *schema.Registry, rm ReadModels,
	window broker.WindowReader, arc archive.Reader, kills controls.KillSwitches,
	cfg config.JobsConfig, opts ...Option) *Runner {
	r := &Runner{
		projector: projector,
		registry:  registry,
		readModel: rm,
		window:    window,
		archive:   arc,
		kills:     kills,
		cfg:       cfg,
		logger:    logging.Default("jobs"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ============================================================================
// 单次运行参数
// ============================================================================

// RunOption 单次作业调用的可选参数
type RunOption func(*runOptions)

type runOptions struct {
	allowActive bool
	maxQPS      int
}

// AllowActive 显式允许写入当前服务实时读取的版本
//
// 默认拒绝：实时读模型只能由实时消费路径推进，运维作业写活跃
// 版本必须是操作人有意识的决定。
func AllowActive() RunOption {
	return func(o *runOptions) { o.allowActive = true }
}

// WithMaxQPS 限制本次运行的全局写入速率（每秒），0 表示不限
func WithMaxQPS(qps int) RunOption {
	return func(o *runOptions) { o.maxQPS = qps }
}

func collectRunOptions(opts []RunOption) runOptions {
	var o runOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// guardActiveVersion 拒绝写入范围内任一租户实时读取的版本
//
// 考虑 ramp 覆盖：全局指针之外，灰度到目标版本的租户同样受保护。
// 指针缺失说明尚未切换过，任何版本都可写。
func (r *Runner) guardActiveVersion(ctx context.Context, scope model.JobScope, targetVersion int) error {
	p, err := r.readModel.GetPointer(ctx, model.AggregateOrder)
	if err != nil {
		return fmt.Errorf("read cutover pointer: %w", err)
	}
	if p == nil {
		return nil
	}
	for _, tenantID := range scope.TenantIDs {
		if p.VersionFor(tenantID) == targetVersion {
			return fmt.Errorf("%w: version %d is live for tenant %s", ErrTargetVersionActive, targetVersion, tenantID)
		}
	}
	return nil
}

// perRunGovernor 按 maxQPS 构造单次运行的写入限速器
//
// 与进程级限流叠加生效：作业写入同时受两者约束。
func (r *Runner) perRunGovernor(o runOptions) *ratelimit.Governor {
	if o.maxQPS <= 0 {
		return nil
	}
	return ratelimit.NewGovernor(config.RateLimitConfig{
		GlobalPerWindow:    o.maxQPS,
		PerAggregateWindow: o.maxQPS,
		Window:             time.Second,
	}, r.metrics)
}

// ============================================================================
// 共享骨架
// ============================================================================

// validateScope 拒绝无界范围
func validateScope(s model.JobScope) error {
	if s.Start.IsZero() || s.End.IsZero() || !s.Start.Before(s.End) || len(s.TenantIDs) == 0 {
		return ErrUnboundedScope
	}
	return nil
}

// killGate KillSwitch 门控：按时间间隔轮询，避免每条事件都打 etcd
type killGate struct {
	kills    controls.KillSwitches
	interval time.Duration
	last     time.Time
}

func (r *Runner) newKillGate() *killGate {
	return &killGate{kills: r.kills, interval: r.cfg.KillSwitchInterval}
}

// check 轮询 KillSwitch；force 为 true 时忽略间隔强制查询
func (g *killGate) check(ctx context.Context, force bool) error {
	if !force && time.Since(g.last) < g.interval {
		return nil
	}
	g.last = time.Now()
	ks, err := g.kills.GetKillSwitch(ctx)
	if err != nil {
		return fmt.Errorf("read kill switch: %w", err)
	}
	if ks.Enabled {
		return fmt.Errorf("%w: %s", ErrKillSwitchEngaged, ks.Reason)
	}
	return nil
}

// newRunID 生成作业运行 ID
func newRunID(kind string) string {
	return kind + "-" + uuid.NewString()[:8]
}

// applyBatch 将一批事件应用到目标版本
//
// 批内先按 (aggregate_id, ordering_key) 排序，窗口内乱序事件
// 就地归位；仍报缺口的事件（依赖跨批的前驱）返回延后重试。
func (r *Runner) applyBatch(ctx context.Context, batch []*model.CanonicalEvent,
	opt projection.ApplyOptions, gov *ratelimit.Governor, rep *model.JobReport) []*model.CanonicalEvent {

	sortByAggregate(batch)

	var deferred []*model.CanonicalEvent
	for _, e := range batch {
		if gov != nil && !opt.DryRun {
			if err := gov.WaitWrite(ctx, e.AggregateID); err != nil {
				r.recordError(rep, fmt.Sprintf("rate limit wait: %v", err))
				return deferred
			}
		}
		outcome, err := r.projector.Apply(ctx, e, opt)
		if err != nil {
			r.recordError(rep, fmt.Sprintf("apply %s: %v", e.EventID, err))
			continue
		}
		switch outcome {
		case projection.OutcomeApplied:
			rep.EventsApplied++
		case projection.OutcomeDuplicate:
			rep.DuplicatesIgnored++
		case projection.OutcomeStale:
			rep.StaleIgnored++
		case projection.OutcomeGap:
			deferred = append(deferred, e)
		}
	}
	return deferred
}

// retryDeferred 对缺口事件做有限轮数的补跑
func (r *Runner) retryDeferred(ctx context.Context, deferred []*model.CanonicalEvent,
	opt projection.ApplyOptions, gov *ratelimit.Governor, rep *model.JobReport) {

	for pass := 0; pass < gapRetryPasses && len(deferred) > 0; pass++ {
		deferred = r.applyBatch(ctx, deferred, opt, gov, rep)
	}
	for _, e := range deferred {
		r.recordError(rep, fmt.Sprintf("gap unresolved for event %s (aggregate %s, key %d)",
			e.EventID, e.AggregateID, e.OrderingKey()))
	}
}

// recordError 记录错误样本（有上限）并打点
func (r *Runner) recordError(rep *model.JobReport, msg string) {
	if len(rep.Errors) < maxErrorSamples {
		rep.Errors = append(rep.Errors, msg)
	}
	r.logger.WithRunID(rep.RunID).Warn("job error", "detail", msg)
}

// sortByAggregate 稳定排序：聚合分组内按排序键升序
func sortByAggregate(events []*model.CanonicalEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].AggregateID != events[j].AggregateID {
			return events[i].AggregateID < events[j].AggregateID
		}
		return events[i].OrderingKey() < events[j].OrderingKey()
	})
}

// startRun 审计作业启动（未配置时为 no-op）
func (r *Runner) startRun(ctx context.Context, runID, kind string, scope model.JobScope, dryRun bool) {
	if r.metrics != nil {
		r.metrics.JobsRunning.Inc()
	}
	if r.audit == nil {
		return
	}
	if err := r.audit.StartRun(ctx, runID, kind, scope, dryRun); err != nil {
		r.logger.WithError(err).WithRunID(runID).Warn("audit start failed")
	}
}

// finishRun 收尾：审计、指标、报告归档
func (r *Runner) finishRun(ctx context.Context, rep *model.JobReport) {
	rep.FinishedAt = time.Now().UTC()

	status := "succeeded"
	switch {
	case rep.Aborted:
		status = "aborted"
	case len(rep.Errors) > 0:
		status = "failed"
	}

	if r.audit != nil {
		if err := r.audit.FinishRun(ctx, rep.RunID, status, rep); err != nil {
			r.logger.WithError(err).WithRunID(rep.RunID).Warn("audit finish failed")
		}
	}
	if r.metrics != nil {
		r.metrics.JobsRunning.Dec()
		r.metrics.RecordJobProgress(rep.Kind, rep.EventsRead, rep.EventsApplied, int64(len(rep.Errors)))
	}
	if r.reports != nil {
		if err := r.reports.PutReport(ctx, rep.RunID, rep); err != nil {
			r.logger.WithError(err).WithRunID(rep.RunID).Warn("archive report failed")
		}
	}

	r.logger.JobLog("finished", rep.RunID,
		"kind", rep.Kind, "status", status,
		"read", rep.EventsRead, "applied", rep.EventsApplied,
		"duplicates", rep.DuplicatesIgnored, "stale", rep.StaleIgnored,
		"errors", len(rep.Errors))
}
