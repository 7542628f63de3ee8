// Package archive 封装 MinIO 归档存储
//
// 归档是 broker 保留窗口之外的只追加事件存储：每个事件一个
// 不可变对象，按 租户/日期 组织前缀，回补与对账按前缀分页遍历。
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"event-pipeline/internal/config"
	"event-pipeline/internal/model"
)

// Reader 窗口读取接口（回补/对账依赖）
type Reader interface {
	// ReadWindow 按时间窗口遍历租户的归档事件，按 occurred_at 升序回调
	ReadWindow(ctx context.Context, tenantID string, start, end time.Time, fn func(*model.CanonicalEvent) error) error
}

// Writer 追加接口（摄取端依赖）
type Writer interface {
	// Append 归档一个事件；同一 event_id 重复归档为幂等覆盖
	Append(ctx context.Context, e *model.CanonicalEvent) error
}

// Client MinIO 归档客户端
type Client struct {
	mc     *minio.Client
	bucket string
}

// NewClient 创建 MinIO 归档客户端
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access_key and secret_key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "event-archive"
	}

	return &Client{mc: mc, bucket: bucket}, nil
}

// EnsureBucket 确保 bucket 存在
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		log.Printf("[Archive] Created bucket: %s", c.bucket)
	}
	return nil
}

// eventKey 事件对象键：events/<tenant>/<yyyy>/<mm>/<dd>/<unixnano>-<event_id>.json
//
// 前缀按 occurred_at 的 UTC 日期组织，对象名以纳秒时间戳开头，
// 同一前缀下 ListObjects 的字典序即时间序。
func eventKey(e *model.CanonicalEvent) string {
	t := e.OccurredAt.UTC()
	return fmt.Sprintf("events/%s/%s/%020d-%s.json", e.TenantID, t.Format("2006/01/02"), t.UnixNano(), e.EventID)
}

// dayPrefix 租户某天的对象前缀
func dayPrefix(tenantID string, day time.Time) string {
	return fmt.Sprintf("events/%s/%s/", tenantID, day.UTC().Format("2006/01/02"))
}

// Append 归档一个事件
//
// 对象键含 event_id，重复归档同一事件是幂等覆盖（内容不变）。
func (c *Client) Append(ctx context.Context, e *model.CanonicalEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.EventID, err)
	}
	_, err = c.mc.PutObject(ctx, c.bucket, eventKey(e), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", e.EventID, err)
	}
	return nil
}

// ReadWindow 按时间窗口遍历租户的归档事件
//
// 逐日列举前缀，对象名前缀即时间序；窗口边界在解码后按
// occurred_at 精确过滤。
func (c *Client) ReadWindow(ctx context.Context, tenantID string, start, end time.Time, fn func(*model.CanonicalEvent) error) error {
	for day := start.UTC().Truncate(24 * time.Hour); day.Before(end); day = day.Add(24 * time.Hour) {
		opts := minio.ListObjectsOptions{Prefix: dayPrefix(tenantID, day), Recursive: true}
		for obj := range c.mc.ListObjects(ctx, c.bucket, opts) {
			if obj.Err != nil {
				return fmt.Errorf("list archive %s: %w", tenantID, obj.Err)
			}
			e, err := c.getEvent(ctx, obj.Key)
			if err != nil {
				return err
			}
			if e.OccurredAt.Before(start) || !e.OccurredAt.Before(end) {
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// getEvent 下载并解码单个事件对象
func (c *Client) getEvent(ctx context.Context, key string) (*model.CanonicalEvent, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get archive object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read archive object %s: %w", key, err)
	}
	var e model.CanonicalEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode archive object %s: %w", key, err)
	}
	return &e, nil
}

// PutReport 存放作业产物（对账报告等）：reports/<run_id>.json
func (c *Client) PutReport(ctx context.Context, runID string, report any) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", runID, err)
	}
	key := fmt.Sprintf("reports/%s.json", runID)
	_, err = c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put report %s: %w", key, err)
	}
	return nil
}

// 接口验证
var (
	_ Reader = (*Client)(nil)
	_ Writer = (*Client)(nil)
)
