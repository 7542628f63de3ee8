// Package model 作业报告与对账产物
package model

import "time"

// JobScope 作业范围
//
// 每次调用必须显式给出有界范围：时间窗口 + 至少一个租户。
// 无界运行一律拒绝。
type JobScope struct {
	TenantIDs []string  `json:"tenant_ids"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Contains 判断事件是否落在范围内
func (s *JobScope) Contains(tenantID string, occurredAt time.Time) bool {
	if occurredAt.Before(s.Start) || !occurredAt.Before(s.End) {
		return false
	}
	for _, t := range s.TenantIDs {
		if t == tenantID {
			return true
		}
	}
	return false
}

// JobReport 作业运行报告（主要可观测面）
type JobReport struct {
	RunID             string    `json:"run_id"`
	Kind              string    `json:"kind"` // replay | backfill | reconcile | cutover
	TargetVersion     int       `json:"target_version,omitempty"`
	DryRun            bool      `json:"dry_run"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	EventsRead        int64     `json:"events_read"`
	EventsApplied     int64     `json:"events_applied"`
	DuplicatesIgnored int64     `json:"duplicates_ignored"`
	StaleIgnored      int64     `json:"stale_ignored"`
	Errors            []string  `json:"errors,omitempty"`
	Aborted           bool      `json:"aborted"`
	AbortReason       string    `json:"abort_reason,omitempty"`
}

// Mismatch 单个聚合的对账差异
type Mismatch struct {
	AggregateID     string   `json:"aggregate_id"`
	TenantID        string   `json:"tenant_id"`
	ExpectedHash    string   `json:"expected_hash"`
	StoredHash      string   `json:"stored_hash"`
	MismatchedField []string `json:"mismatched_fields,omitempty"`
	Missing         bool     `json:"missing"` // 读模型缺失该聚合
}

// RepairAction 修复计划中的单条建议写入（仅供人工复核，不执行）
type RepairAction struct {
	AggregateID string `json:"aggregate_id"`
	Version     int    `json:"version"`
	Field       string `json:"field"`
	Expected    any    `json:"expected"`
	Stored      any    `json:"stored"`
}

// DiscrepancyReport 对账报告
type DiscrepancyReport struct {
	RunID          string         `json:"run_id"`
	Scope          JobScope       `json:"scope"`
	Version        int            `json:"version"`
	EventsReplayed int64          `json:"events_replayed"`
	Checked        int64          `json:"aggregates_checked"`
	Mismatches     []Mismatch     `json:"mismatches,omitempty"`
	RepairPlan     []RepairAction `json:"repair_plan,omitempty"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// Clean 对账是否未发现差异
func (r *DiscrepancyReport) Clean() bool {
	return len(r.Mismatches) == 0
}
