// Package readmodel 内存实现（用于测试）
package readmodel

import (
	"context"
	"sort"
	"sync"
	"time"

	"event-pipeline/internal/model"
)

// MemoryStore 进程内读模型，语义与 Mongo 实现对齐
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[int]map[string]*model.OrderDoc // version → id → doc
	pointers map[string]*model.ReadModelPointer
	dedup    map[string]time.Time
	indexed  map[int]bool

	// FailWrites 非 nil 时所有写入返回该错误（故障注入）
	FailWrites error
}

// NewMemoryStore 创建内存读模型
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[int]map[string]*model.OrderDoc),
		pointers: make(map[string]*model.ReadModelPointer),
		dedup:    make(map[string]time.Time),
		indexed:  make(map[int]bool),
	}
}

func (s *MemoryStore) versionCol(version int) map[string]*model.OrderDoc {
	col, ok := s.orders[version]
	if !ok {
		col = make(map[string]*model.OrderDoc)
		s.orders[version] = col
	}
	return col
}

// clone 写入与读出都复制，避免测试中共享可变状态
func clone(doc *model.OrderDoc) *model.OrderDoc {
	if doc == nil {
		return nil
	}
	cp := *doc
	if doc.ClosedAt != nil {
		t := *doc.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

// GetOrder 读取文档；不存在时返回 (nil, nil)
func (s *MemoryStore) GetOrder(ctx context.Context, version int, id string) (*model.OrderDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.versionCol(version)[id]), nil
}

// InsertOrder 插入新文档
func (s *MemoryStore) InsertOrder(ctx context.Context, version int, doc *model.OrderDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	col := s.versionCol(version)
	if _, exists := col[doc.ID]; exists {
		return ErrDuplicate
	}
	col[doc.ID] = clone(doc)
	return nil
}

// ReplaceOrderIf 条件替换（compare-and-swap）
func (s *MemoryStore) ReplaceOrderIf(ctx context.Context, version int, doc *model.OrderDoc, prevKey int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return false, s.FailWrites
	}
	col := s.versionCol(version)
	stored, exists := col[doc.ID]
	if !exists || stored.Projection.Cursor.OrderingKey != prevKey {
		return false, nil
	}
	col[doc.ID] = clone(doc)
	return true, nil
}

// CountOrders 统计租户文档数
func (s *MemoryStore) CountOrders(ctx context.Context, version int, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, doc := range s.versionCol(version) {
		if doc.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// SampleOrderIDs 取样文档 ID（确定性：按 ID 排序取前 n 个）
func (s *MemoryStore) SampleOrderIDs(ctx context.Context, version int, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.versionCol(version)))
	for id := range s.versionCol(version) {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids, nil
}

// ExistsOrder 判断文档是否存在
func (s *MemoryStore) ExistsOrder(ctx context.Context, version int, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.versionCol(version)[id]
	return ok, nil
}

// ListOrdersByTenant 按 ID 分页列出租户文档
func (s *MemoryStore) ListOrdersByTenant(ctx context.Context, version int, tenantID, afterID string, limit int) ([]*model.OrderDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []*model.OrderDoc
	for _, doc := range s.versionCol(version) {
		if doc.TenantID == tenantID && doc.ID > afterID {
			docs = append(docs, clone(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// EnsureVersionIndexes 标记版本索引已建立
func (s *MemoryStore) EnsureVersionIndexes(ctx context.Context, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed[version] = true
	return nil
}

// HasVersionIndexes 版本索引是否齐备
func (s *MemoryStore) HasVersionIndexes(ctx context.Context, version int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexed[version], nil
}

// DropVersion 丢弃版本集合
func (s *MemoryStore) DropVersion(ctx context.Context, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, version)
	delete(s.indexed, version)
	return nil
}

// GetPointer 读取版本指针
func (s *MemoryStore) GetPointer(ctx context.Context, aggregateType string) (*model.ReadModelPointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pointers[aggregateType]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// SetPointer 整体替换版本指针
func (s *MemoryStore) SetPointer(ctx context.Context, p *model.ReadModelPointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	cp := *p
	s.pointers[p.ID] = &cp
	return nil
}

// ActiveVersion 解析租户生效版本
func (s *MemoryStore) ActiveVersion(ctx context.Context, aggregateType, tenantID string, fallback int) (int, error) {
	p, err := s.GetPointer(ctx, aggregateType)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return fallback, nil
	}
	return p.VersionFor(tenantID), nil
}

// SeenMessage 去重记录查询
func (s *MemoryStore) SeenMessage(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

// MarkMessage 写入去重记录
func (s *MemoryStore) MarkMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[messageID] = time.Now()
	return nil
}
