// Package archive 内存归档实现（用于测试）
package archive

import (
	"context"
	"sort"
	"sync"
	"time"

	"event-pipeline/internal/model"
)

// MemoryArchive 进程内归档
type MemoryArchive struct {
	mu      sync.Mutex
	events  []*model.CanonicalEvent
	reports map[string]any
}

// NewMemoryArchive 创建内存归档
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{reports: make(map[string]any)}
}

// Append 归档事件
func (a *MemoryArchive) Append(ctx context.Context, e *model.CanonicalEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, old := range a.events {
		if old.EventID == e.EventID {
			a.events[i] = e // 幂等覆盖
			return nil
		}
	}
	a.events = append(a.events, e)
	return nil
}

// ReadWindow 按时间窗口遍历，occurred_at 升序
func (a *MemoryArchive) ReadWindow(ctx context.Context, tenantID string, start, end time.Time, fn func(*model.CanonicalEvent) error) error {
	a.mu.Lock()
	matched := make([]*model.CanonicalEvent, 0)
	for _, e := range a.events {
		if e.TenantID != tenantID {
			continue
		}
		if e.OccurredAt.Before(start) || !e.OccurredAt.Before(end) {
			continue
		}
		matched = append(matched, e)
	}
	a.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OccurredAt.Before(matched[j].OccurredAt)
	})
	for _, e := range matched {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// PutReport 归档运行报告
func (a *MemoryArchive) PutReport(ctx context.Context, runID string, report any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports[runID] = report
	return nil
}

// Report 读取已归档的报告（测试断言用）
func (a *MemoryArchive) Report(runID string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.reports[runID]
	return r, ok
}

// 接口验证
var (
	_ Reader = (*MemoryArchive)(nil)
	_ Writer = (*MemoryArchive)(nil)
)
