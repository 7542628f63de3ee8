// Package model broker 消息信封
package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// BrokerEnvelope broker 投递到消费端点的线格式
//
// Data 为 base64 编码的 CanonicalEvent JSON；Attributes 携带
// 路由所需的最小元信息，消费端在解码 Data 前即可完成路由判断。
type BrokerEnvelope struct {
	MessageID   string            `json:"message_id"`
	PublishTime time.Time         `json:"publish_time"`
	Attributes  map[string]string `json:"attributes"`
	Data        string            `json:"data"`
	Deliveries  int               `json:"deliveries,omitempty"` // 第几次投递（含本次）
}

// 信封属性键
const (
	AttrEventType     = "event_type"
	AttrSchemaVersion = "schema_version"
	AttrTenantID      = "tenant_id"
)

// WrapEvent 将规范事件封装为 broker 信封
func WrapEvent(e *CanonicalEvent) (*BrokerEnvelope, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.EventID, err)
	}
	return &BrokerEnvelope{
		MessageID:   e.EventID,
		PublishTime: time.Now().UTC(),
		Attributes: map[string]string{
			AttrEventType:     e.EventType,
			AttrSchemaVersion: fmt.Sprintf("%d", e.SchemaVersion),
			AttrTenantID:      e.TenantID,
		},
		Data: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// DecodeEvent 解码信封中的规范事件
func (env *BrokerEnvelope) DecodeEvent() (*CanonicalEvent, error) {
	raw, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode envelope %s: %w", env.MessageID, err)
	}
	var e CanonicalEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("unmarshal envelope %s: %w", env.MessageID, err)
	}
	return &e, nil
}
