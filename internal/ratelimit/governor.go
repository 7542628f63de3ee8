// Package ratelimit 写入限流与背压
//
// 实时消费端与回放/回补作业共用：滚动窗口内跟踪全局与聚合级
// 写入计数，逼近上限时在窗口剩余时间内休眠；高负载时在每次
// 写入前注入与负载成正比的随机抖动，避免同步写入风暴。
// 只延迟、不丢弃：调用方需容忍附加延迟而非失败。
//
// 计数是进程本地的全局近似（副本间最终一致），目标是避免
// 存储层限流错误的近似公平，而非精确的全局配额。
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"event-pipeline/internal/config"
	"event-pipeline/internal/metrics"
)

// Governor 写入限流器
type Governor struct {
	cfg     config.RateLimitConfig
	metrics *metrics.Metrics // 可选

	mu          sync.Mutex
	windowStart time.Time
	global      int
	perAgg      map[string]int
}

// NewGovernor 创建限流器
func NewGovernor(cfg config.RateLimitConfig, m *metrics.Metrics) *Governor {
	return &Governor{
		cfg:         cfg,
		metrics:     m,
		windowStart: time.Now(),
		perAgg:      map[string]int{},
	}
}

// WaitWrite 在一次写入前等待直至允许执行
//
// 返回错误仅在 context 取消/超时的情况下发生。
func (g *Governor) WaitWrite(ctx context.Context, aggregateID string) error {
	started := time.Now()
	for {
		wait, jitter := g.admit(aggregateID)
		if wait == 0 && jitter == 0 {
			if waited := time.Since(started); waited > time.Millisecond && g.metrics != nil {
				g.metrics.RecordThrottle(waited)
			}
			return nil
		}

		d := wait
		if d == 0 {
			d = jitter
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
		if wait == 0 {
			// 抖动只注入一次，休眠后直接计数放行
			g.count(aggregateID)
			if g.metrics != nil {
				g.metrics.RecordThrottle(time.Since(started))
			}
			return nil
		}
	}
}

// admit 判定当前写入：返回 (窗口等待时长, 抖动时长)
//
// 两者都为 0 表示已计数放行。
func (g *Governor) admit(aggregateID string) (wait, jitter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if now.Sub(g.windowStart) >= g.cfg.Window {
		g.windowStart = now
		g.global = 0
		g.perAgg = map[string]int{}
	}

	// 上限已满：休眠到窗口结束
	if g.global >= g.cfg.GlobalPerWindow || g.perAgg[aggregateID] >= g.cfg.PerAggregateWindow {
		remaining := g.cfg.Window - now.Sub(g.windowStart)
		if remaining < time.Millisecond {
			remaining = time.Millisecond
		}
		return remaining, 0
	}

	// 高负载：注入与负载成正比的随机抖动
	load := float64(g.global) / float64(g.cfg.GlobalPerWindow)
	if load >= g.cfg.JitterThreshold {
		j := time.Duration(rand.Float64() * load * float64(g.cfg.MaxJitter))
		if j > 0 {
			return 0, j
		}
	}

	g.global++
	g.perAgg[aggregateID]++
	return 0, 0
}

// count 抖动休眠后的直接计数
func (g *Governor) count(aggregateID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.global++
	g.perAgg[aggregateID]++
}

// sleep context 感知的休眠
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
