// Package redis 时间窗口回读（回放订阅）
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"event-pipeline/internal/broker"
)

// ReadWindow 分页读取 [start, end) 窗口内的消息
//
// Redis stream ID 以毫秒时间戳开头，窗口定位即按 ID 范围 XRANGE。
// 独立于消费者组：回放读不会影响实时订阅的 pending 状态。
func (s *Store) ReadWindow(ctx context.Context, start, end time.Time, afterID string, count int64) ([]*broker.Delivery, string, error) {
	from := strconv.FormatInt(start.UnixMilli(), 10) + "-0"
	if afterID != "" {
		// "(" 前缀表示排除上一页末尾 ID
		from = "(" + afterID
	}
	// end 排他：ID 毫秒部分 ≤ end-1ms 的全部消息
	to := strconv.FormatInt(end.UnixMilli()-1, 10)

	msgs, err := s.client.XRangeN(ctx, s.topic, from, to, count).Result()
	if err != nil {
		return nil, "", fmt.Errorf("read window on %s: %w", s.topic, err)
	}
	if len(msgs) == 0 {
		return nil, "", nil
	}

	deliveries := make([]*broker.Delivery, 0, len(msgs))
	for _, msg := range msgs {
		deliveries = append(deliveries, fromMessage(msg))
	}

	next := msgs[len(msgs)-1].ID
	if int64(len(msgs)) < count {
		next = "" // 窗口读尽
	}
	return deliveries, next, nil
}

// Oldest 主题中最老消息的发布时间
//
// 回放前检查窗口起点是否仍在保留期内；主题为空返回零值时间。
func (s *Store) Oldest(ctx context.Context) (time.Time, error) {
	msgs, err := s.client.XRangeN(ctx, s.topic, "-", "+", 1).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("read oldest on %s: %w", s.topic, err)
	}
	if len(msgs) == 0 {
		return time.Time{}, nil
	}
	return streamTime(msgs[0].ID)
}
