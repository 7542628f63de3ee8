// Package projection 幂等投影核心
//
// 本包是消费端、回放/回补作业和对账作业共用的唯一投影实现，
// 业务规则只存在一份。正确性完全由聚合级游标约束保证：
// 排序键不大于已存游标的事件一律幂等忽略，无需任何外部锁。
package projection

// Outcome 单次投影应用的结果
type Outcome int

const (
	// OutcomeApplied 业务变更已写入，游标前移
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate 排序键与游标相等，重复投递，no-op
	OutcomeDuplicate
	// OutcomeStale 排序键小于游标，过期投递，no-op
	OutcomeStale
	// OutcomeGap 序号出现空洞，等待缺失事件重投后再应用
	OutcomeGap
)

// String 返回结果名称
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeStale:
		return "stale"
	case OutcomeGap:
		return "gap"
	default:
		return "unknown"
	}
}
