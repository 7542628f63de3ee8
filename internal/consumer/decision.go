// Package consumer 推送消费端点
//
// broker 以 HTTP POST 将信封推送到本端点；响应状态码即确认语义：
// 2xx 确认（Ack），4xx 不可恢复（路由到死信），5xx 可恢复（重投）。
// 所有投影写入都经过幂等执行器，重投永远安全。
package consumer

import (
	"errors"
	"net/http"

	"event-pipeline/internal/projection"
	"event-pipeline/internal/schema"
)

// AckDecision 消息处置决定
type AckDecision int

const (
	// Ack 已成功处理（含幂等 no-op），broker 可删除消息
	Ack AckDecision = iota
	// NackRetry 瞬态故障或乱序缺口，等待 broker 重投
	NackRetry
	// NackDeadLetter 不可恢复（格式/路由错误），重投无意义
	NackDeadLetter
)

// String 返回决定名（指标标签）
func (d AckDecision) String() string {
	switch d {
	case Ack:
		return "ack"
	case NackRetry:
		return "nack_retry"
	case NackDeadLetter:
		return "nack_deadletter"
	default:
		return "unknown"
	}
}

// StatusCode 决定对应的 HTTP 响应码
func (d AckDecision) StatusCode() int {
	switch d {
	case Ack:
		return http.StatusOK
	case NackDeadLetter:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// decide 将处理结果映射为处置决定
//
// 不可恢复类（未注册路由、payload 与 schema 不符）进死信；
// 缺口与存储故障走重投，broker 的投递计数最终会把反复失败的
// 消息送进死信。
func decide(outcome projection.Outcome, err error) AckDecision {
	if err != nil {
		if errors.Is(err, schema.ErrUnknownRoute) || errors.Is(err, schema.ErrBadPayload) {
			return NackDeadLetter
		}
		return NackRetry
	}
	if outcome == projection.OutcomeGap {
		return NackRetry
	}
	return Ack
}
