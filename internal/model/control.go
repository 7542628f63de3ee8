// Package model 控制面文档：版本指针、KillSwitch、去重记录
package model

import "time"

// ReadModelPointer 读模型版本指针（按部署单例）
//
// 查询路径在选择版本化集合前读取本文档；
// 仅 Cutover 控制器可写，写入为单文档原子操作。
type ReadModelPointer struct {
	ID            string         `json:"id" bson:"_id"` // 固定为 aggregate_type
	ActiveVersion int            `json:"active_version" bson:"active_version"`
	Ramp          map[string]int `json:"ramp,omitempty" bson:"ramp,omitempty"` // tenant_id → version 覆盖
	UpdatedAt     time.Time      `json:"updated_at" bson:"updated_at"`
	UpdatedBy     string         `json:"updated_by" bson:"updated_by"`
	RunID         string         `json:"run_id,omitempty" bson:"run_id,omitempty"`
}

// VersionFor 返回指定租户生效的版本（考虑 ramp 覆盖）
func (p *ReadModelPointer) VersionFor(tenantID string) int {
	if v, ok := p.Ramp[tenantID]; ok {
		return v
	}
	return p.ActiveVersion
}

// KillSwitch 作业紧急停止开关
//
// 所有回放/回补作业在启动时和每批次之间检查；
// 对作业只读，由运维人员通过 etcd 写入。
type KillSwitch struct {
	Enabled   bool      `json:"enabled"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DedupRecord 短 TTL 去重记录
//
// 仅在同一 event_id 可能携带不同 sequence 的异常场景下启用
// （游标不变量下不应发生，作为 bug 防线）。
type DedupRecord struct {
	MessageID string    `json:"message_id" bson:"_id"`
	AppliedAt time.Time `json:"applied_at" bson:"applied_at"`
}
