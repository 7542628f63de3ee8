// Package controls etcd 实现
package controls

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"event-pipeline/internal/model"
)

// etcd key 布局（prefix 下）
const (
	keyKillSwitch     = "/killswitch"
	keyPublishEnabled = "/flags/publish_enabled"
)

// Store etcd 控制面客户端
type Store struct {
	client *clientv3.Client
	prefix string
}

// Config etcd 配置
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// NewStore 创建 etcd 控制面客户端
func NewStore(cfg Config) (*Store, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/pipeline"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = client.Status(ctx, cfg.Endpoints[0])
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	log.Printf("[Controls] Connected to %v", cfg.Endpoints)
	return &Store{client: client, prefix: cfg.Prefix}, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.client.Close()
}

// 接口验证
var _ Controls = (*Store)(nil)

// GetKillSwitch 读取 KillSwitch；键缺失返回未触发状态
func (s *Store) GetKillSwitch(ctx context.Context) (*model.KillSwitch, error) {
	resp, err := s.client.Get(ctx, s.prefix+keyKillSwitch)
	if err != nil {
		return nil, fmt.Errorf("get kill switch: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return &model.KillSwitch{}, nil
	}

	var ks model.KillSwitch
	if err := json.Unmarshal(resp.Kvs[0].Value, &ks); err != nil {
		return nil, fmt.Errorf("unmarshal kill switch: %w", err)
	}
	return &ks, nil
}

// SetKillSwitch 写入 KillSwitch（运维操作）
func (s *Store) SetKillSwitch(ctx context.Context, enabled bool, reason string) error {
	ks := model.KillSwitch{Enabled: enabled, Reason: reason, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(ks)
	if err != nil {
		return fmt.Errorf("marshal kill switch: %w", err)
	}
	if _, err := s.client.Put(ctx, s.prefix+keyKillSwitch, string(data)); err != nil {
		return fmt.Errorf("put kill switch: %w", err)
	}
	log.Printf("[Controls] Kill switch: enabled=%v reason=%q", enabled, reason)
	return nil
}

// WatchKillSwitch 监听 KillSwitch 变化
func (s *Store) WatchKillSwitch(ctx context.Context) clientv3.WatchChan {
	return s.client.Watch(ctx, s.prefix+keyKillSwitch)
}

// PublishEnabled 发布开关；键缺失时默认打开
func (s *Store) PublishEnabled(ctx context.Context) (bool, error) {
	resp, err := s.client.Get(ctx, s.prefix+keyPublishEnabled)
	if err != nil {
		return false, fmt.Errorf("get publish flag: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return true, nil
	}
	return string(resp.Kvs[0].Value) == "true", nil
}

// SetPublishEnabled 写入发布开关
func (s *Store) SetPublishEnabled(ctx context.Context, enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	if _, err := s.client.Put(ctx, s.prefix+keyPublishEnabled, v); err != nil {
		return fmt.Errorf("put publish flag: %w", err)
	}
	log.Printf("[Controls] Publish flag: %s", v)
	return nil
}
