// Package monitor WebSocket 事件监控网关
//
// 向运维前端实时推送流经主题的规范事件，支持按租户过滤。
// 监控读路径独立于消费者组，纯观察不产生 Ack。
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"event-pipeline/internal/broker"
	"event-pipeline/internal/model"
	"event-pipeline/pkg/logging"
)

// 轮询与心跳间隔
const (
	tailInterval  = 500 * time.Millisecond
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	tailBatch     = 100
)

// upgrader WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway 事件监控网关
type Gateway struct {
	window broker.WindowReader
	logger *logging.Logger
	mu     sync.RWMutex
	conns  map[*websocket.Conn]bool
}

// NewGateway 创建监控网关
func NewGateway(window broker.WindowReader) *Gateway {
	return &Gateway{
		window: window,
		logger: logging.Default("monitor"),
		conns:  make(map[*websocket.Conn]bool),
	}
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/events
//
// 查询参数：
//   - tenant_id: 只推送该租户的事件（可选）
//
// 推送消息格式：{"type": "event", "data": {...CanonicalEvent...}}
// 客户端心跳：{"type": "ping"} -> 响应 {"type": "pong"}
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	g.addConn(conn)
	defer g.removeConn(conn)
	g.logger.Info("monitor client connected", "tenant_id", tenantID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go g.readPump(conn, cancel)
	g.writePump(ctx, conn, tenantID)
}

func (g *Gateway) addConn(conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[conn] = true
}

func (g *Gateway) removeConn(conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, conn)
}

// ClientCount 当前连接数
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// readPump 读取客户端消息：处理心跳，连接断开时取消上下文
func (g *Gateway) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.WithError(err).Warn("websocket read error")
			}
			return
		}

		var req map[string]interface{}
		if json.Unmarshal(msg, &req) == nil {
			if req["type"] == "ping" {
				conn.WriteJSON(map[string]string{"type": "pong"})
			}
		}
	}
}

// writePump 尾随主题并推送新事件
//
// 连接建立时刻为尾随起点，afterID 游标保证不重复推送。
func (g *Gateway) writePump(ctx context.Context, conn *websocket.Conn, tenantID string) {
	ticker := time.NewTicker(tailInterval)
	pingTicker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer pingTicker.Stop()

	start := time.Now().Add(-time.Second)
	afterID := ""

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			deliveries, nextID, err := g.window.ReadWindow(ctx, start, time.Now(), afterID, tailBatch)
			if err != nil {
				g.logger.WithError(err).Warn("tail topic failed")
				continue
			}
			if nextID != "" {
				afterID = nextID
			}

			for _, d := range deliveries {
				if tenantID != "" && d.Envelope.Attributes[model.AttrTenantID] != tenantID {
					continue
				}
				e, err := d.Envelope.DecodeEvent()
				if err != nil {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := conn.WriteJSON(map[string]interface{}{"type": "event", "data": e}); err != nil {
					g.logger.WithError(err).Warn("websocket write error")
					return
				}
			}
		}
	}
}
