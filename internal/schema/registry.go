// Package schema 事件 schema 注册表与 upcast
//
// 路由建模为 (event_type, schema_version) 的封闭集合：
// 未注册的组合立即报 ErrUnknownRoute，属于配置错误而非瞬态故障，
// 消费端据此走永久失败路径（死信），不做反射式的开放分发。
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"event-pipeline/internal/model"
)

// ErrUnknownRoute 未注册的 (event_type, schema_version) 组合
var ErrUnknownRoute = errors.New("unknown event_type/schema_version route")

// ErrBadPayload payload 无法按注册的 schema 解码
var ErrBadPayload = errors.New("payload does not match registered schema")

// routeKey 路由键
type routeKey struct {
	eventType string
	version   int
}

// decodeFunc 将原始 payload 解码并升级为当前内存形状
type decodeFunc func(raw json.RawMessage) (any, error)

// Registry schema 注册表
//
// 并发只读：注册在构造期完成，运行期只做查表。
type Registry struct {
	routes  map[routeKey]decodeFunc
	current map[string]int // event_type → 当前版本
}

// NewRegistry 创建注册表并注册全部已知路由
func NewRegistry() *Registry {
	r := &Registry{
		routes:  make(map[routeKey]decodeFunc),
		current: make(map[string]int),
	}

	// order.created: v1 → v2 upcast（补 currency），v2 原样
	r.register(model.EventOrderCreated, 1, func(raw json.RawMessage) (any, error) {
		var v1 model.OrderCreatedV1
		if err := strictUnmarshal(raw, &v1); err != nil {
			return nil, err
		}
		return upcastOrderCreatedV1(v1), nil
	})
	r.register(model.EventOrderCreated, 2, func(raw json.RawMessage) (any, error) {
		var v2 model.OrderCreatedV2
		if err := strictUnmarshal(raw, &v2); err != nil {
			return nil, err
		}
		return v2, nil
	})

	// order.updated: 仅 v1
	r.register(model.EventOrderUpdated, 1, func(raw json.RawMessage) (any, error) {
		var v model.OrderUpdatedV1
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	})

	// order.closed: 仅 v1
	r.register(model.EventOrderClosed, 1, func(raw json.RawMessage) (any, error) {
		var v model.OrderClosedV1
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	})

	return r
}

// register 注册路由并维护 event_type 的当前版本
func (r *Registry) register(eventType string, version int, fn decodeFunc) {
	r.routes[routeKey{eventType, version}] = fn
	if version > r.current[eventType] {
		r.current[eventType] = version
	}
}

// Known 是否为已注册路由
func (r *Registry) Known(eventType string, version int) bool {
	_, ok := r.routes[routeKey{eventType, version}]
	return ok
}

// CurrentVersion 返回事件类型的当前 schema 版本；未知类型返回 0
func (r *Registry) CurrentVersion(eventType string) int {
	return r.current[eventType]
}

// Decode 解码事件 payload 并升级到当前内存形状
func (r *Registry) Decode(e *model.CanonicalEvent) (any, error) {
	fn, ok := r.routes[routeKey{e.EventType, e.SchemaVersion}]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrUnknownRoute, e.EventType, e.SchemaVersion)
	}
	payload, err := fn(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s v%d: %v", ErrBadPayload, e.EventType, e.SchemaVersion, err)
	}
	return payload, nil
}

// upcastOrderCreatedV1 v1 → v2：缺失的 currency 默认 USD
func upcastOrderCreatedV1(v1 model.OrderCreatedV1) model.OrderCreatedV2 {
	return model.OrderCreatedV2{
		Symbol:   v1.Symbol,
		Side:     v1.Side,
		Qty:      v1.Qty,
		Price:    v1.Price,
		Currency: "USD",
	}
}

// strictUnmarshal 拒绝未知字段的 JSON 解码
func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
