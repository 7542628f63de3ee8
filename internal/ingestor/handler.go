// Package ingestor 事件摄取 HTTP API
//
// 接收上游系统的批量事件提交：补全事件标识 → 先落归档（持久化
// 旁路，回补与对账的数据源）→ 再发布到 broker。归档写入失败视为
// 整条失败，宁可让上游重试也不留归档空洞。
package ingestor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"event-pipeline/internal/archive"
	"event-pipeline/internal/model"
	"event-pipeline/internal/producer"
	"event-pipeline/pkg/logging"
)

// 单批提交事件数上限
const maxBatchSize = 100

// Handler 摄取 API 处理器
type Handler struct {
	publisher *producer.Publisher
	archive   archive.Writer
	logger    *logging.Logger
}

// NewHandler 创建摄取处理器
func NewHandler(publisher *producer.Publisher, arc archive.Writer) *Handler {
	return &Handler{
		publisher: publisher,
		archive:   arc,
		logger:    logging.Default("ingestor"),
	}
}

// Routes 注册路由
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/events", h.IngestEvents)
	mux.HandleFunc("GET /health", h.Health)
	return mux
}

// ingestRequest 批量摄取请求体
type ingestRequest struct {
	Events []*model.CanonicalEvent `json:"events"`
}

// ingestResult 单个事件的摄取结果
type ingestResult struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"` // published | skipped | failed
	Error   string `json:"error,omitempty"`
}

// ingestResponse 批量摄取响应体
type ingestResponse struct {
	Results   []ingestResult `json:"results"`
	Published int            `json:"published"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
}

// IngestEvents POST /api/v1/events 批量摄取
func (h *Handler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events required")
		return
	}
	if len(req.Events) > maxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "too many events in one batch")
		return
	}

	resp := ingestResponse{Results: make([]ingestResult, 0, len(req.Events))}
	for _, e := range req.Events {
		resp.Results = append(resp.Results, h.ingestOne(r, e, &resp))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ingestOne 处理单个事件：补全标识 → 归档 → 发布
func (h *Handler) ingestOne(r *http.Request, e *model.CanonicalEvent, resp *ingestResponse) ingestResult {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	e.IngestedAt = time.Now().UTC()

	if err := e.Validate(); err != nil {
		resp.Failed++
		return ingestResult{EventID: e.EventID, Status: "failed", Error: err.Error()}
	}

	if err := h.archive.Append(r.Context(), e); err != nil {
		h.logger.WithError(err).WithEventID(e.EventID).Error("archive append failed")
		resp.Failed++
		return ingestResult{EventID: e.EventID, Status: "failed", Error: "archive unavailable"}
	}

	result, err := h.publisher.Publish(r.Context(), e)
	if err != nil {
		resp.Failed++
		return ingestResult{EventID: e.EventID, Status: "failed", Error: err.Error()}
	}

	switch result.Status {
	case producer.StatusSkipped:
		resp.Skipped++
	default:
		resp.Published++
	}
	return ingestResult{EventID: e.EventID, Status: result.Status.String()}
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
