// Package redis 基于 Redis Streams 的 broker 实现
package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"event-pipeline/internal/broker"
	"event-pipeline/internal/model"
)

// Store Redis Streams broker
type Store struct {
	client   *redis.Client
	topic    string
	dlqTopic string
}

// NewStore 创建 Redis broker 实例
//
// url: Redis 连接 URL，如 "redis://localhost:6379/0"
func NewStore(url, topic, dlqTopic string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Broker] Connected to %s (topic=%s)", opts.Addr, topic)
	return &Store{client: client, topic: topic, dlqTopic: dlqTopic}, nil
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Client 返回底层 Redis 客户端
func (s *Store) Client() *redis.Client {
	return s.client
}

// 接口验证
var _ broker.Broker = (*Store)(nil)

// ============================================================================
// 信封编解码
// ============================================================================

// toValues 将信封展开为 stream 字段
func toValues(env *model.BrokerEnvelope) map[string]interface{} {
	return map[string]interface{}{
		"message_id":     env.MessageID,
		"publish_time":   env.PublishTime.Format(time.RFC3339Nano),
		"event_type":     env.Attributes[model.AttrEventType],
		"schema_version": env.Attributes[model.AttrSchemaVersion],
		"tenant_id":      env.Attributes[model.AttrTenantID],
		"data":           env.Data,
	}
}

// fromMessage 将 stream 消息还原为投递
func fromMessage(msg redis.XMessage) *broker.Delivery {
	env := &model.BrokerEnvelope{
		Attributes: map[string]string{},
	}
	if v, ok := msg.Values["message_id"].(string); ok {
		env.MessageID = v
	}
	if v, ok := msg.Values["publish_time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			env.PublishTime = t
		}
	}
	if v, ok := msg.Values["event_type"].(string); ok {
		env.Attributes[model.AttrEventType] = v
	}
	if v, ok := msg.Values["schema_version"].(string); ok {
		env.Attributes[model.AttrSchemaVersion] = v
	}
	if v, ok := msg.Values["tenant_id"].(string); ok {
		env.Attributes[model.AttrTenantID] = v
	}
	if v, ok := msg.Values["data"].(string); ok {
		env.Data = v
	}

	return &broker.Delivery{
		StreamID:    msg.ID,
		Envelope:    env,
		Deliveries:  1,
		DeliveredAt: time.Now(),
	}
}

// streamTime 解析 stream ID 中的毫秒时间戳
func streamTime(id string) (time.Time, error) {
	part, _, _ := strings.Cut(id, "-")
	ms, err := strconv.ParseInt(part, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stream id %q: %w", id, err)
	}
	return time.UnixMilli(ms), nil
}
