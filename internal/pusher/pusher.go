// Package pusher broker 到消费端点的推送泵
//
// 以消费者组身份读取主题，将信封 POST 到推送端点，按响应码处置：
// 2xx 确认，4xx 路由死信，5xx/网络错误留在 pending 等待认领重投。
// 401/403 例外：认证失败说明推送方凭据损坏，消息留在 pending 并
// 触发告警，不入死信。投递次数超过上限的消息直接入死信，避免
// 毒丸消息无限循环。
package pusher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"event-pipeline/internal/broker"
	"event-pipeline/internal/config"
	"event-pipeline/internal/consumer"
	"event-pipeline/internal/metrics"
	"event-pipeline/pkg/logging"
)

// 推送令牌有效期：单次请求用，给足时钟偏移余量即可
const pushTokenTTL = 2 * time.Minute

// Pusher 推送泵
type Pusher struct {
	broker     broker.Broker
	cfg        config.PushConfig
	group      string
	consumerID string
	endpoint   string // 推送端点 URL
	jwtSecret  string // 为空时不带认证头
	client     *http.Client
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

// Option Pusher 可选依赖
type Option func(*Pusher)

// WithMetrics 注入指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pusher) { p.metrics = m }
}

// WithLogger 注入日志器
func WithLogger(l *logging.Logger) Option {
	return func(p *Pusher) { p.logger = l }
}

// WithHTTPClient 替换 HTTP 客户端（测试用）
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pusher) { p.client = c }
}

// New 创建推送泵
func New(b broker.Broker, cfg config.PushConfig, group, consumerID, endpoint, jwtSecret string, opts ...Option) *Pusher {
	p := &Pusher{
		broker:     b,
		cfg:        cfg,
		group:      group,
		consumerID: consumerID,
		endpoint:   endpoint,
		jwtSecret:  jwtSecret,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logging.Default("pusher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run 推送主循环，阻塞直到 ctx 取消
func (p *Pusher) Run(ctx context.Context) error {
	if err := p.broker.EnsureGroup(ctx, p.group); err != nil {
		return fmt.Errorf("ensure group %s: %w", p.group, err)
	}
	p.logger.Info("pusher started", "group", p.group, "consumer", p.consumerID, "endpoint", p.endpoint)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// 先认领崩溃消费者遗留的 pending 消息，再读新消息
		claimed, err := p.broker.Claim(ctx, p.group, p.consumerID, p.cfg.RetryBackoff, p.cfg.BatchSize)
		if err != nil {
			p.logger.WithError(err).Warn("claim pending failed")
		}
		p.deliverBatch(ctx, claimed)

		fresh, err := p.broker.Consume(ctx, p.group, p.consumerID, p.cfg.BatchSize, p.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.WithError(err).Warn("consume failed")
			time.Sleep(p.cfg.RetryBackoff)
			continue
		}
		p.deliverBatch(ctx, fresh)
		p.reportBacklog(ctx)
	}
}

// deliverBatch 逐条投递一批消息
func (p *Pusher) deliverBatch(ctx context.Context, batch []*broker.Delivery) {
	for _, d := range batch {
		if ctx.Err() != nil {
			return
		}
		p.deliver(ctx, d)
	}
}

// deliver 投递单条消息并按响应处置
func (p *Pusher) deliver(ctx context.Context, d *broker.Delivery) {
	if d.Deliveries > p.cfg.MaxDeliveries {
		p.deadLetter(ctx, d, "max_deliveries_exceeded")
		return
	}

	status, err := p.post(ctx, d)
	switch {
	case err != nil:
		// 网络错误：留在 pending，RetryBackoff 后由认领重投
		p.logger.WithError(err).Warn("push failed", "message_id", d.Envelope.MessageID, "deliveries", d.Deliveries)
	case status >= 200 && status < 300:
		if err := p.broker.Ack(ctx, p.group, d.StreamID); err != nil {
			p.logger.WithError(err).Warn("ack failed", "stream_id", d.StreamID)
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		// 认证失败是推送方凭据/配置故障，消息本身无毒：留在 pending
		// 等待修复后重投，绝不因此灌死信
		if p.metrics != nil {
			p.metrics.RecordIdentityError()
		}
		p.logger.Error("push rejected by endpoint auth, check push credentials",
			"message_id", d.Envelope.MessageID, "status", status, "deliveries", d.Deliveries)
	case status >= 400 && status < 500:
		p.logger.Warn("endpoint rejected message", "message_id", d.Envelope.MessageID, "status", status)
		p.deadLetter(ctx, d, "endpoint_rejected")
	default:
		// 5xx：同网络错误处理
		p.logger.Warn("push rejected transiently",
			"message_id", d.Envelope.MessageID, "status", status, "deliveries", d.Deliveries)
	}
}

// post 将信封 POST 到推送端点，返回响应状态码
func (p *Pusher) post(ctx context.Context, d *broker.Delivery) (int, error) {
	env := *d.Envelope
	env.Deliveries = d.Deliveries
	body, err := json.Marshal(&env)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope %s: %w", env.MessageID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.jwtSecret != "" {
		token, err := consumer.SignPushToken(p.jwtSecret, p.consumerID, pushTokenTTL)
		if err != nil {
			return 0, fmt.Errorf("sign push token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// deadLetter 路由死信并打点
func (p *Pusher) deadLetter(ctx context.Context, d *broker.Delivery, reason string) {
	if err := p.broker.DeadLetter(ctx, p.group, d, reason); err != nil {
		p.logger.WithError(err).Error("dead letter failed", "message_id", d.Envelope.MessageID)
		return
	}
	if p.metrics != nil {
		p.metrics.RecordDeadLetter(reason)
	}
	p.logger.Warn("message dead lettered", "message_id", d.Envelope.MessageID, "reason", reason)
}

// reportBacklog 上报未确认消息积压
func (p *Pusher) reportBacklog(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	n, err := p.broker.PendingCount(ctx, p.group)
	if err != nil {
		return
	}
	p.metrics.ConsumerBacklog.Set(float64(n))
}
