// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"auto-arxiv-go/internal/model"
	"auto-arxiv-go/internal/service"
	"auto-arxiv-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// QueryHandler 负责处理问答 WebSocket 连接。
type QueryHandler struct {
	queryService service.QueryService
}

// NewQueryHandler 创建一个新的 QueryHandler。
func NewQueryHandler(queryService service.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

// queryRequest 是客户端发来的首帧。
type queryRequest struct {
	Question string `json:"question"`
}

// Handle 处理一个传入的 WebSocket 连接：读取问题，流式下发事件帧。
func (h *QueryHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[QueryHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	var req queryRequest
	if err := conn.ReadJSON(&req); err != nil {
		log.Error("[QueryHandler] 读取问题帧失败", err)
		return
	}
	if req.Question == "" {
		_ = conn.WriteJSON(model.QueryEvent{Type: "error", Message: "问题不能为空"})
		return
	}
	log.Infof("[QueryHandler] 收到问答请求: %s", req.Question)

	// WebSocket 写不是并发安全的，事件下发统一加锁
	var writeMu sync.Mutex
	emit := func(event model.QueryEvent) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(event); err != nil {
			log.Warnf("[QueryHandler] 事件下发失败: %v", err)
		}
	}

	_ = h.queryService.Query(c.Request.Context(), req.Question, emit)
}
