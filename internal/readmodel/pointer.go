package readmodel

import (
	"context"
	"log"
	"time"

	"event-pipeline/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// ReadModelPointer：版本指针单例文档
// ============================================================================

// GetPointer 读取聚合类型的版本指针；未初始化时返回 (nil, nil)
func (s *Store) GetPointer(ctx context.Context, aggregateType string) (*model.ReadModelPointer, error) {
	var p model.ReadModelPointer
	err := s.col(ColPointer).FindOne(ctx, bson.D{{Key: "_id", Value: aggregateType}}).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, wrapError(err)
	}
	return &p, nil
}

// SetPointer 原子写入版本指针（upsert 单文档，即切换生效点）
//
// 这是唯一改变读者可见版本的写入；回滚即指向前一版本再调用一次。
func (s *Store) SetPointer(ctx context.Context, p *model.ReadModelPointer) error {
	p.UpdatedAt = time.Now().UTC()
	opts := options.Replace().SetUpsert(true)
	_, err := s.col(ColPointer).ReplaceOne(ctx, bson.D{{Key: "_id", Value: p.ID}}, p, opts)
	if err != nil {
		return wrapError(err)
	}
	log.Printf("[readmodel] Pointer updated: %s → v%d (by=%s run=%s)", p.ID, p.ActiveVersion, p.UpdatedBy, p.RunID)
	return nil
}

// ActiveVersion 返回租户当前生效的版本；指针未初始化时返回 fallback
func (s *Store) ActiveVersion(ctx context.Context, aggregateType, tenantID string, fallback int) (int, error) {
	p, err := s.GetPointer(ctx, aggregateType)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return fallback, nil
	}
	return p.VersionFor(tenantID), nil
}
