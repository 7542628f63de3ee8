// Package readmodel 实现基于 MongoDB 的版本化读模型存储
//
// 使用 mongo-go-driver v2，通过 bson tag 实现 model 结构体的序列化/反序列化。
// 读模型按版本分集合存放（orders_v<N>），由单例指针文档决定读路径
// 生效的版本；游标约束通过条件更新（compare-and-swap）实现，
// 不引入任何二级锁。
package readmodel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection 名称常量
const (
	ColPointer = "readmodel_pointer"
	ColDedup   = "dedup_records"

	// 版本化集合前缀，完整名称由 orderCol 生成
	colOrdersPrefix = "orders_v"
)

// 去重记录保留时长（TTL 索引）
const dedupTTL = 24 * time.Hour

// 领域错误
var (
	ErrNotFound  = errors.New("readmodel: not found")
	ErrDuplicate = errors.New("readmodel: duplicate key")
)

// Store 版本化读模型存储
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewStore 创建 MongoDB 存储实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "event_pipeline"
func NewStore(uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("readmodel: connect failed: %w", err)
	}

	// 验证连接
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("readmodel: ping failed: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{client: client, db: db}

	// 控制面集合索引（版本化集合的索引在 EnsureVersionIndexes 中按需创建）
	if err := s.ensureControlIndexes(ctx); err != nil {
		log.Printf("WARNING: readmodel: ensure control indexes failed: %v", err)
	}

	return s, nil
}

// Close 关闭 MongoDB 连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// orderCol 返回指定版本的订单集合名
func orderCol(version int) string {
	return fmt.Sprintf("%s%d", colOrdersPrefix, version)
}

// ensureControlIndexes 创建控制面集合索引
func (s *Store) ensureControlIndexes(ctx context.Context) error {
	// 去重记录按 applied_at 过期
	ttl := mongo.IndexModel{
		Keys:    bson.D{{Key: "applied_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(dedupTTL.Seconds())),
	}
	if _, err := s.col(ColDedup).Indexes().CreateOne(ctx, ttl); err != nil {
		return fmt.Errorf("create ttl index on %s: %w", ColDedup, err)
	}
	return nil
}

// EnsureVersionIndexes 创建指定版本集合的查询索引
//
// 切换（cutover）的前置条件之一：目标版本必须先建好索引。
func (s *Store) EnsureVersionIndexes(ctx context.Context, version int) error {
	type idx struct {
		keys   bson.D
		unique bool
	}

	indexes := []idx{
		{bson.D{{Key: "tenant_id", Value: 1}}, false},
		{bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}}, false},
		{bson.D{{Key: "tenant_id", Value: 1}, {Key: "symbol", Value: 1}}, false},
		{bson.D{{Key: "projection.cursor.updated_at", Value: -1}}, false},
	}

	col := s.col(orderCol(version))
	for _, i := range indexes {
		model := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			model.Options = options.Index().SetUnique(true)
		}
		if _, err := col.Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", orderCol(version), err)
		}
	}

	return nil
}

// HasVersionIndexes 检查目标版本集合的索引是否已建立
func (s *Store) HasVersionIndexes(ctx context.Context, version int) (bool, error) {
	cursor, err := s.col(orderCol(version)).Indexes().List(ctx)
	if err != nil {
		return false, fmt.Errorf("list indexes on %s: %w", orderCol(version), err)
	}
	defer cursor.Close(ctx)

	count := 0
	for cursor.Next(ctx) {
		count++
	}
	// _id 之外至少应有 EnsureVersionIndexes 建立的查询索引
	return count > 1, cursor.Err()
}

// DropVersion 删除整个版本集合（稳定期后的垃圾回收，显式运维操作）
func (s *Store) DropVersion(ctx context.Context, version int) error {
	log.Printf("[readmodel] Dropping version collection: %s", orderCol(version))
	return s.col(orderCol(version)).Drop(ctx)
}

// wrapError 将 MongoDB 错误转换为领域错误
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}
