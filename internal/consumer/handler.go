package consumer

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"event-pipeline/internal/metrics"
	"event-pipeline/internal/model"
	"event-pipeline/internal/projection"
	"event-pipeline/pkg/logging"
)

// VersionResolver 解析聚合类型在指定租户下的活跃读模型版本
//
// 由 readmodel.Store 实现（读取切换指针文档，支持按租户灰度）。
type VersionResolver interface {
	ActiveVersion(ctx context.Context, aggregateType, tenantID string, fallback int) (int, error)
}

// Handler 推送端点处理器
type Handler struct {
	projector *projection.Projector
	versions  VersionResolver
	fallback  int // 指针文档缺失时的版本兜底
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// Option Handler 可选依赖
type Option func(*Handler)

// WithMetrics 注入指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger 注入日志器
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler 创建推送端点处理器
func NewHandler(projector *projection.Projector, versions VersionResolver, fallbackVersion int, opts ...Option) *Handler {
	h := &Handler{
		projector: projector,
		versions:  versions,
		fallback:  fallbackVersion,
		logger:    logging.Default("consumer"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle 处理一条推送信封，返回处置决定
//
// 解码失败与校验失败属于不可恢复类：消息本身损坏，重投只会
// 重复失败，直接路由死信。版本解析失败是存储侧瞬态故障，重投。
func (h *Handler) Handle(ctx context.Context, env *model.BrokerEnvelope) AckDecision {
	e, err := env.DecodeEvent()
	if err != nil {
		h.logger.WithError(err).Warn("malformed envelope", "message_id", env.MessageID)
		return h.finish(NackDeadLetter)
	}
	if err := e.Validate(); err != nil {
		h.logger.WithError(err).WithEventID(e.EventID).Warn("invalid event")
		return h.finish(NackDeadLetter)
	}

	version, err := h.versions.ActiveVersion(ctx, e.AggregateType, e.TenantID, h.fallback)
	if err != nil {
		h.logger.WithError(err).WithEventID(e.EventID).Error("resolve active version failed")
		return h.finish(NackRetry)
	}

	outcome, err := h.projector.Apply(ctx, e, projection.ApplyOptions{Version: version})
	decision := decide(outcome, err)
	if err != nil {
		h.logger.WithError(err).WithEventID(e.EventID).
			Warn("apply failed", "decision", decision.String())
	}
	return h.finish(decision)
}

// finish 打消费指标
func (h *Handler) finish(d AckDecision) AckDecision {
	if h.metrics != nil {
		h.metrics.RecordConsume(d.String())
	}
	return d
}

// ============================================================================
// HTTP 端点
// ============================================================================

// pushResponse 推送端点响应体
type pushResponse struct {
	Decision string `json:"decision"`
}

// HandlePush POST /push 推送投递端点
func (h *Handler) HandlePush(w http.ResponseWriter, r *http.Request) {
	var env model.BrokerEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	decision := h.Handle(ctx, &env)
	writeJSON(w, decision.StatusCode(), pushResponse{Decision: decision.String()})
}

// Health GET /health 健康检查
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
