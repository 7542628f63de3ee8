// Package producer broker 错误分类
package producer

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorClass 发布失败的处置类别
type ErrorClass int

const (
	// ClassTransient 瞬态/容量类（超时、不可用、限流）：退避重试
	ClassTransient ErrorClass = iota
	// ClassIdentity 身份/权限类：致命，立即告警，不重试
	ClassIdentity
	// ClassNotFound 主题/配置缺失类：致命，立即告警，不重试
	ClassNotFound
	// ClassInvalid 参数/负载类 bug：致命，告警，不重试
	ClassInvalid
)

// String 返回类别名（指标标签）
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassIdentity:
		return "identity"
	case ClassNotFound:
		return "not_found"
	case ClassInvalid:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// Retryable 是否可重试
func (c ErrorClass) Retryable() bool {
	return c == ClassTransient
}

// Classify 将 broker 错误归入处置类别
//
// Redis 侧没有 gRPC 状态码，按错误文本归类：
// 认证/权限错误和配置缺失是致命项，其余网络与容量错误偏向
// 瞬态（at-least-once 下重试安全，游标保证幂等）。
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	msg := strings.ToUpper(err.Error())
	switch {
	case strings.Contains(msg, "NOAUTH"),
		strings.Contains(msg, "WRONGPASS"),
		strings.Contains(msg, "NOPERM"):
		return ClassIdentity
	case strings.Contains(msg, "NOGROUP"),
		strings.Contains(msg, "NO SUCH KEY"):
		return ClassNotFound
	case strings.Contains(msg, "WRONG NUMBER OF ARGUMENTS"),
		strings.Contains(msg, "INVALID"):
		return ClassInvalid
	case strings.Contains(msg, "LOADING"),
		strings.Contains(msg, "READONLY"),
		strings.Contains(msg, "CLUSTERDOWN"),
		strings.Contains(msg, "OOM"),
		strings.Contains(msg, "CONNECTION REFUSED"),
		strings.Contains(msg, "I/O TIMEOUT"),
		strings.Contains(msg, "EOF"):
		return ClassTransient
	}
	// 未知错误偏向瞬态：重试有界，幂等投影兜底
	return ClassTransient
}
