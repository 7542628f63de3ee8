// Package controls 内存实现（用于测试）
package controls

import (
	"context"
	"sync"

	"event-pipeline/internal/model"
)

// MemoryControls 进程内控制面，字段可在测试中直接设置
type MemoryControls struct {
	mu         sync.Mutex
	kill       model.KillSwitch
	publishOff bool

	// FlagErr 非 nil 时 PublishEnabled 返回该错误（故障注入）
	FlagErr error
}

// NewMemoryControls 创建内存控制面
func NewMemoryControls() *MemoryControls {
	return &MemoryControls{}
}

// GetKillSwitch 读取开关
func (m *MemoryControls) GetKillSwitch(ctx context.Context) (*model.KillSwitch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks := m.kill
	return &ks, nil
}

// SetKillSwitch 设置开关
func (m *MemoryControls) SetKillSwitch(enabled bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kill = model.KillSwitch{Enabled: enabled, Reason: reason}
}

// PublishEnabled 发布开关
func (m *MemoryControls) PublishEnabled(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FlagErr != nil {
		return false, m.FlagErr
	}
	return !m.publishOff, nil
}

// SetPublishEnabled 设置发布开关
func (m *MemoryControls) SetPublishEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishOff = !enabled
}

// Close 关闭
func (m *MemoryControls) Close() error {
	return nil
}

// 确保 MemoryControls 实现了 Controls 接口
var _ Controls = (*MemoryControls)(nil)
