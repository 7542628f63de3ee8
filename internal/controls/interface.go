// Package controls 运维控制面：功能开关与 KillSwitch
//
// 生产者发布前检查远程布尔开关；回放/回补作业在启动时和每批次
// 之间检查 KillSwitch。两者都由 etcd 承载，对作业只读。
package controls

import (
	"context"

	"event-pipeline/internal/model"
)

// Flags 功能开关读取接口
type Flags interface {
	// PublishEnabled 发布开关；键缺失时默认打开
	PublishEnabled(ctx context.Context) (bool, error)
}

// KillSwitches KillSwitch 读取接口
type KillSwitches interface {
	// GetKillSwitch 读取开关；键缺失时返回未触发状态
	GetKillSwitch(ctx context.Context) (*model.KillSwitch, error)
}

// Controls 组合接口
type Controls interface {
	Flags
	KillSwitches
	Close() error
}
