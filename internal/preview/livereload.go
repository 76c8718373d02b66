/**
 * internal/preview/livereload.go
 * 实时刷新 WebSocket 服务
 *
 * 功能：
 * - 浏览器通过 /__livereload 建立连接
 * - 重新构建完成后广播 reload 消息
 * - Ping/Pong 心跳保活
 * - 连接数限制和优雅关闭
 *
 * 依赖：
 * - github.com/gorilla/websocket: WebSocket 库
 */

package preview

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"site-build/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ====================  错误定义 ====================

var (
	// ErrHubShutdown 服务已关闭
	ErrHubShutdown = errors.New("livereload hub is shutdown")
)

// ====================  常量定义 ====================

const (
	// LiveReloadPath WebSocket 路由
	LiveReloadPath = "/__livereload"

	// maxConnections 最大连接数（本地预览，标签页数量有限）
	maxConnections = 100

	// writeWait 写入超时
	writeWait = 10 * time.Second

	// pongWait Pong 等待时间
	pongWait = 60 * time.Second

	// pingPeriod Ping 周期（必须小于 pongWait）
	pingPeriod = 30 * time.Second

	// maxMessageSize 最大消息大小
	maxMessageSize = 512

	// sendBufferSize 发送缓冲区大小
	sendBufferSize = 16
)

// liveReloadScript 注入到 HTML 页面的客户端脚本
const liveReloadScript = `<script>(function(){var p=location.protocol==="https:"?"wss:":"ws:";` +
	`var ws=new WebSocket(p+"//"+location.host+"` + LiveReloadPath + `");` +
	`ws.onmessage=function(e){try{if(JSON.parse(e.data).type==="reload")location.reload()}catch(_){}};})();</script>`

// upgrader WebSocket 升级器
// 预览服务只监听本机，允许所有来源
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		utils.LogPrintf("[LIVERELOAD] ERROR: Upgrade error: status=%d, reason=%v", status, reason)
	},
}

// ====================  数据结构 ====================

// reloadClient 浏览器连接
type reloadClient struct {
	conn   *websocket.Conn
	send   chan []byte
	closed bool
	mu     sync.Mutex
}

// Message 推送给浏览器的消息
type Message struct {
	Type    string `json:"type"`
	BuildID string `json:"buildId,omitempty"`
}

// Hub 实时刷新连接管理
type Hub struct {
	clients    map[*reloadClient]struct{}
	mu         sync.RWMutex
	isShutdown bool
}

// ====================  构造函数 ====================

// NewHub 创建实时刷新服务
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*reloadClient]struct{}),
	}
}

// ====================  公开方法 ====================

// Handle 处理 WebSocket 连接
func (h *Hub) Handle(c *gin.Context) {
	if h.IsShutdown() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
		return
	}

	if h.Count() >= maxConnections {
		utils.LogPrintf("[LIVERELOAD] WARN: Max connections reached (%d), rejecting new client", maxConnections)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &reloadClient{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	if err := h.register(client); err != nil {
		_ = conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

// Broadcast 通知所有浏览器重新加载
// 返回收到消息的连接数
func (h *Hub) Broadcast(buildID string) int {
	data, err := json.Marshal(Message{Type: "reload", BuildID: buildID})
	if err != nil {
		utils.LogPrintf("[LIVERELOAD] ERROR: Failed to marshal message: %v", err)
		return 0
	}

	h.mu.RLock()
	clients := make([]*reloadClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if h.sendToClient(client, data) {
			sent++
		}
	}

	utils.LogPrintf("[LIVERELOAD] Reload sent to %d browser(s)", sent)
	return sent
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsShutdown 检查服务是否已关闭
func (h *Hub) IsShutdown() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isShutdown
}

// Shutdown 关闭所有连接
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.isShutdown {
		h.mu.Unlock()
		return
	}
	h.isShutdown = true
	clients := h.clients
	h.clients = make(map[*reloadClient]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.mu.Lock()
		if !client.closed {
			_ = client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(writeWait))
		}
		client.mu.Unlock()
		closeClient(client)
	}

	utils.LogPrintf("[LIVERELOAD] Shutdown complete")
}

// ====================  私有方法 ====================

func (h *Hub) register(client *reloadClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isShutdown {
		return ErrHubShutdown
	}
	h.clients[client] = struct{}{}
	return nil
}

func (h *Hub) unregister(client *reloadClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	closeClient(client)
}

// closeClient 关闭发送通道和连接（可重复调用）
func closeClient(client *reloadClient) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.closed {
		return
	}
	client.closed = true
	close(client.send)
	_ = client.conn.Close()
}

// sendToClient 非阻塞发送，缓冲区满时移除连接
func (h *Hub) sendToClient(client *reloadClient, message []byte) bool {
	client.mu.Lock()
	if client.closed {
		client.mu.Unlock()
		return false
	}

	select {
	case client.send <- message:
		client.mu.Unlock()
		return true
	default:
		client.mu.Unlock()
		h.unregister(client)
		return false
	}
}

// writePump 写入协程
func (h *Hub) writePump(client *reloadClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取协程（只处理 Pong 和关闭）
func (h *Hub) readPump(client *reloadClient) {
	defer h.unregister(client)

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				utils.LogPrintf("[LIVERELOAD] DEBUG: Unexpected close error: %v", err)
			}
			return
		}
	}
}
