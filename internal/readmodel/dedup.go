package readmodel

import (
	"context"
	"errors"
	"time"

	"event-pipeline/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ============================================================================
// DedupStore：短 TTL 消息级去重记录
//
// 游标不变量已覆盖正常的重复投递；本集合只防御同一 event_id
// 携带不同 sequence 的上游 bug，记录随 TTL 索引自动过期。
// ============================================================================

// SeenMessage 查询消息是否已被应用
func (s *Store) SeenMessage(ctx context.Context, messageID string) (bool, error) {
	err := s.col(ColDedup).FindOne(ctx, bson.D{{Key: "_id", Value: messageID}}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, wrapError(err)
	}
	return true, nil
}

// MarkMessage 记录消息已应用；重复记录视为成功
func (s *Store) MarkMessage(ctx context.Context, messageID string) error {
	rec := model.DedupRecord{MessageID: messageID, AppliedAt: time.Now().UTC()}
	_, err := s.col(ColDedup).InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return wrapError(err)
}
