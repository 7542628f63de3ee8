package readmodel

import (
	"context"
	"fmt"

	"event-pipeline/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// OrderStore：版本化订单文档的读写
// ============================================================================

// GetOrder 读取文档；不存在时返回 (nil, nil)
func (s *Store) GetOrder(ctx context.Context, version int, id string) (*model.OrderDoc, error) {
	var doc model.OrderDoc
	err := s.col(orderCol(version)).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, wrapError(err)
	}
	return &doc, nil
}

// InsertOrder 插入新文档；_id 冲突返回 ErrDuplicate（并发创建竞争）
func (s *Store) InsertOrder(ctx context.Context, version int, doc *model.OrderDoc) error {
	_, err := s.col(orderCol(version)).InsertOne(ctx, doc)
	return wrapError(err)
}

// ReplaceOrderIf 条件整体替换：仅当已存文档的游标排序键等于 prevKey
//
// 这是游标不变量的唯一执行点：过滤条件把"读到的游标仍未变化"
// 编码进单次原子写，并发写入方竞争同一聚合时只有一方命中，
// 另一方重读游标后重新判定。
func (s *Store) ReplaceOrderIf(ctx context.Context, version int, doc *model.OrderDoc, prevKey int64) (bool, error) {
	filter := bson.D{
		{Key: "_id", Value: doc.ID},
		{Key: "projection.cursor.ordering_key", Value: prevKey},
	}
	res, err := s.col(orderCol(version)).ReplaceOne(ctx, filter, doc)
	if err != nil {
		return false, wrapError(err)
	}
	return res.MatchedCount == 1, nil
}

// CountOrders 统计版本集合内（可选按租户）的文档数
func (s *Store) CountOrders(ctx context.Context, version int, tenantID string) (int64, error) {
	filter := bson.D{}
	if tenantID != "" {
		filter = bson.D{{Key: "tenant_id", Value: tenantID}}
	}
	n, err := s.col(orderCol(version)).CountDocuments(ctx, filter)
	if err != nil {
		return 0, wrapError(err)
	}
	return n, nil
}

// SampleOrderIDs 从版本集合随机抽样文档 ID（切换前覆盖率检查）
func (s *Store) SampleOrderIDs(ctx context.Context, version int, n int) ([]string, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: n}}}},
		bson.D{{Key: "$project", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	cursor, err := s.col(orderCol(version)).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", orderCol(version), err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cursor.Err()
}

// ExistsOrder 检查文档是否存在
func (s *Store) ExistsOrder(ctx context.Context, version int, id string) (bool, error) {
	n, err := s.col(orderCol(version)).CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return false, wrapError(err)
	}
	return n > 0, nil
}

// ListOrdersByTenant 按租户分页列出文档（对账遍历用）
//
// 以 _id 升序为分页游标：afterID 为空从头开始。
func (s *Store) ListOrdersByTenant(ctx context.Context, version int, tenantID, afterID string, limit int) ([]*model.OrderDoc, error) {
	filter := bson.D{{Key: "tenant_id", Value: tenantID}}
	if afterID != "" {
		filter = append(filter, bson.E{Key: "_id", Value: bson.D{{Key: "$gt", Value: afterID}}})
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))

	cursor, err := s.col(orderCol(version)).Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	var docs []*model.OrderDoc
	for cursor.Next(ctx) {
		var d model.OrderDoc
		if err := cursor.Decode(&d); err != nil {
			return nil, err
		}
		docs = append(docs, &d)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []*model.OrderDoc{}
	}
	return docs, nil
}
