// Package redis 发布与消费者组操作
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"event-pipeline/internal/broker"
	"event-pipeline/internal/model"
)

// 主题最大长度（近似修剪；超出保留窗口的历史走归档）
const maxTopicLength = 1_000_000

// Publish 将信封追加到主题
func (s *Store) Publish(ctx context.Context, env *model.BrokerEnvelope) (string, error) {
	args := &redis.XAddArgs{
		Stream: s.topic,
		MaxLen: maxTopicLength,
		Approx: true,
		Values: toValues(env),
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	return id, nil
}

// EnsureGroup 创建消费者组（幂等）
func (s *Store) EnsureGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.topic, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group %s: %w", group, err)
	}
	return nil
}

// Consume 以消费者身份读取新消息
func (s *Store) Consume(ctx context.Context, group, consumerID string, count int64, block time.Duration) ([]*broker.Delivery, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumerID,
		Streams:  []string{s.topic, ">"},
		Count:    count,
		Block:    block,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("consume %s: %w", s.topic, err)
	}

	var deliveries []*broker.Delivery
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			deliveries = append(deliveries, fromMessage(msg))
		}
	}
	return deliveries, nil
}

// Claim 认领 pending 超过 minIdle 的消息（崩溃/超时重投）
//
// 投递次数来自 group 的 pending 记录，调用方据此判断死信。
func (s *Store) Claim(ctx context.Context, group, consumerID string, minIdle time.Duration, count int64) ([]*broker.Delivery, error) {
	msgs, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.topic,
		Group:    group,
		Consumer: consumerID,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("claim pending on %s: %w", s.topic, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	// 补充投递次数
	retries := map[string]int64{}
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   s.topic,
		Group:    group,
		Start:    msgs[0].ID,
		End:      msgs[len(msgs)-1].ID,
		Count:    int64(len(msgs)),
		Consumer: consumerID,
	}).Result()
	if err == nil {
		for _, p := range pending {
			retries[p.ID] = p.RetryCount
		}
	}

	var deliveries []*broker.Delivery
	for _, msg := range msgs {
		d := fromMessage(msg)
		if rc, ok := retries[msg.ID]; ok && rc > 0 {
			d.Deliveries = int(rc)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

// Ack 确认消息已处理
func (s *Store) Ack(ctx context.Context, group, streamID string) error {
	return s.client.XAck(ctx, s.topic, group, streamID).Err()
}

// PendingCount 未确认消息数量
func (s *Store) PendingCount(ctx context.Context, group string) (int64, error) {
	pending, err := s.client.XPending(ctx, s.topic, group).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// Len 主题长度
func (s *Store) Len(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.topic).Result()
}

// DeadLetter 将消息发往死信主题并从原主题确认
//
// 两步操作非原子：最坏情况是死信重复条目，不会丢失消息。
func (s *Store) DeadLetter(ctx context.Context, group string, d *broker.Delivery, reason string) error {
	values := toValues(d.Envelope)
	values["dlq_reason"] = reason
	values["dlq_source_id"] = d.StreamID
	values["dlq_deliveries"] = d.Deliveries

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.dlqTopic,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("dead letter %s: %w", d.Envelope.MessageID, err)
	}

	if err := s.client.XAck(ctx, s.topic, group, d.StreamID).Err(); err != nil {
		return fmt.Errorf("ack after dead letter %s: %w", d.StreamID, err)
	}

	log.Printf("[Broker] Dead lettered: msg=%s reason=%s deliveries=%d", d.Envelope.MessageID, reason, d.Deliveries)
	return nil
}

// DeadLetterLen 死信主题长度
func (s *Store) DeadLetterLen(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.dlqTopic).Result()
}
