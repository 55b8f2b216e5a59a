package server

import (
	"errors"
	"net/http"
	"time"

	"MediaGuard/core/events"
	"MediaGuard/logger"
	"MediaGuard/model"
	"MediaGuard/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // 写入超时
	pongWait       = 60 * time.Second    // 等待 pong 响应超时
	pingPeriod     = (pongWait * 9) / 10 // ping 间隔 (必须小于 pongWait)
	maxMessageSize = 512                 // 客户端只发送控制帧
)

// statusSnapshot is the first message on a status socket.
type statusSnapshot struct {
	Type                 string             `json:"type"`
	MediaID              string             `json:"mediaId"`
	UploadStatus         model.UploadStatus `json:"status"`
	AnalysisStatus       model.StageStatus  `json:"analysisStatus"`
	ProcessingStatus     model.StageStatus  `json:"processingStatus"`
	AnalyzedForExtremism bool               `json:"analyzedForExtremism"`
}

type statusEvent struct {
	Type string `json:"type"`
	events.Event
}

func (h *APIHandler) upgrader() *websocket.Upgrader {
	origin := h.cfg.CORSOrigin
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if origin == "" || origin == "*" {
				return true
			}
			o := r.Header.Get("Origin")
			return o == "" || o == origin
		},
	}
}

// StatusSocketHandler streams status transitions of one record over a
// websocket. The current state is sent first.
func (h *APIHandler) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Status events are disabled", "")
		return
	}

	// 先订阅再读快照，避免漏掉两者之间的事件
	sub := h.hub.Subscribe(id)
	defer sub.Close()

	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Media file not found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load media record", err.Error())
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket 升级失败", logger.String("mediaId", id), logger.ErrorField(err))
		return
	}
	defer conn.Close()

	logger.Debug("状态订阅已连接", logger.String("mediaId", id))

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// 读循环只用于感知断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("状态订阅异常断开", logger.String("mediaId", id), logger.ErrorField(err))
				}
				return
			}
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(statusSnapshot{
		Type:                 "snapshot",
		MediaID:              rec.ID,
		UploadStatus:         rec.UploadStatus,
		AnalysisStatus:       rec.AnalysisStatus,
		ProcessingStatus:     rec.ProcessingStatus,
		AnalyzedForExtremism: rec.AnalyzedForExtremism,
	}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub 关闭或订阅者过慢被移除
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"))
				return
			}
			if err := conn.WriteJSON(statusEvent{Type: "status", Event: ev}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
