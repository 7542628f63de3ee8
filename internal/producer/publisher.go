// Package producer 事件发布端
//
// 对外暴露单一 Publish 入口：本地校验 → 远程发布开关 → 封装信封 →
// 带退避的发布重试。瞬态错误指数退避重试（有界），致命错误立即
// 返回并打点告警；开关关闭时短路为 Skipped。
package producer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"event-pipeline/internal/broker"
	"event-pipeline/internal/config"
	"event-pipeline/internal/controls"
	"event-pipeline/internal/metrics"
	"event-pipeline/internal/model"
	"event-pipeline/pkg/logging"
)

// ============================================================================
// 发布结果
// ============================================================================

// Status 发布处置状态
type Status int

const (
	// StatusPublished 已写入 broker
	StatusPublished Status = iota
	// StatusSkipped 发布开关关闭，事件被丢弃
	StatusSkipped
	// StatusFailed 发布失败（致命错误或重试耗尽）
	StatusFailed
)

// String 返回状态名
func (s Status) String() string {
	switch s {
	case StatusPublished:
		return "published"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result 单次发布的结果
type Result struct {
	Status   Status
	BrokerID string     // broker 消息 ID（仅 Published）
	Attempts int        // 实际尝试次数
	Class    ErrorClass // 失败时的错误类别
}

// ============================================================================
// Publisher
// ============================================================================

// Publisher 事件发布器
type Publisher struct {
	pub     broker.Publisher
	flags   controls.Flags
	cfg     config.ProducerConfig
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// Option Publisher 可选配置
type Option func(*Publisher)

// WithMetrics 注入指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithLogger 注入日志器
func WithLogger(l *logging.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// New 创建发布器
func New(pub broker.Publisher, flags controls.Flags, cfg config.ProducerConfig, opts ...Option) *Publisher {
	p := &Publisher{
		pub:    pub,
		flags:  flags,
		cfg:    cfg,
		logger: logging.Default("producer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish 发布一条规范事件
//
// 流程：本地校验 → 远程开关 → 封装 → 发布（瞬态错误退避重试）。
// 返回 Result 描述处置；error 非空时 Result.Status 为 Failed。
func (p *Publisher) Publish(ctx context.Context, e *model.CanonicalEvent) (*Result, error) {
	if err := e.Validate(); err != nil {
		p.record("failed", ClassInvalid.String(), 0)
		p.logger.WithContext(ctx).PublishLog("rejected", e.EventID, e.EventType, 0, err)
		return &Result{Status: StatusFailed, Class: ClassInvalid}, fmt.Errorf("validate event: %w", err)
	}
	if e.IngestedAt.IsZero() {
		e.IngestedAt = time.Now().UTC()
	}

	enabled, err := p.flags.PublishEnabled(ctx)
	if err != nil {
		// 开关读取失败视为瞬态：宁可拒绝本次请求也不绕过控制面
		p.record("failed", ClassTransient.String(), 0)
		return &Result{Status: StatusFailed, Class: ClassTransient}, fmt.Errorf("read publish flag: %w", err)
	}
	if !enabled {
		p.record("skipped", "", 0)
		p.logger.WithContext(ctx).PublishLog("skipped", e.EventID, e.EventType, 0, nil)
		return &Result{Status: StatusSkipped}, nil
	}

	env, err := model.WrapEvent(e)
	if err != nil {
		p.record("failed", ClassInvalid.String(), 0)
		return &Result{Status: StatusFailed, Class: ClassInvalid}, fmt.Errorf("wrap event: %w", err)
	}

	return p.publishWithRetry(ctx, e, env)
}

// publishWithRetry 带退避的发布循环
func (p *Publisher) publishWithRetry(ctx context.Context, e *model.CanonicalEvent, env *model.BrokerEnvelope) (*Result, error) {
	var lastErr error
	backoff := p.cfg.InitialBackoff

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		id, err := p.pub.Publish(ctx, env)
		if err == nil {
			p.record("published", "", time.Since(start))
			p.logger.WithContext(ctx).PublishLog("published", e.EventID, e.EventType, attempt, nil)
			return &Result{Status: StatusPublished, BrokerID: id, Attempts: attempt}, nil
		}
		lastErr = err
		class := Classify(err)
		p.record("retry", class.String(), time.Since(start))
		p.logger.WithContext(ctx).PublishLog("attempt_failed", e.EventID, e.EventType, attempt, err)

		if !class.Retryable() {
			p.record("failed", class.String(), 0)
			return &Result{Status: StatusFailed, Attempts: attempt, Class: class},
				fmt.Errorf("publish event %s (%s): %w", e.EventID, class, err)
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := sleepBackoff(ctx, backoff); err != nil {
			return &Result{Status: StatusFailed, Attempts: attempt, Class: ClassTransient}, err
		}
		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}

	p.record("failed", ClassTransient.String(), 0)
	return &Result{Status: StatusFailed, Attempts: p.cfg.MaxAttempts, Class: ClassTransient},
		fmt.Errorf("publish event %s: attempts exhausted: %w", e.EventID, lastErr)
}

// sleepBackoff 带抖动的退避等待（响应取消）
func sleepBackoff(ctx context.Context, d time.Duration) error {
	// 抖动避免多个生产者同步重试
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	timer := time.NewTimer(d + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// record 打发布指标（未注入时跳过）
func (p *Publisher) record(outcome, errorCode string, latency time.Duration) {
	if p.metrics != nil {
		p.metrics.RecordPublish(outcome, errorCode, latency)
	}
}
