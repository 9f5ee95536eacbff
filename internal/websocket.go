package internal

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket 傳輸閘道：讓瀏覽器客戶端也能說同一套協定。
//
// 訊框與 TCP 完全相同（固定 4096 位元組、'*' 填充、JSON 酬載），
// 以二進位訊息逐框承載；一請求一回應的契約不變，伺服器不推送。
// 連線處理器對兩種傳輸一視同仁（見 FrameConn）。

// WSGateway WebSocket 連線閘道
type WSGateway struct {
	handler  *Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSGateway 創建 WebSocket 閘道
func NewWSGateway(handler *Handler, logger *slog.Logger) *WSGateway {
	return &WSGateway{
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  FrameSize,
			WriteBufferSize: FrameSize,
		},
	}
}

// ServeWS 升級 HTTP 請求並交給連線處理器
func (g *WSGateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("升級 WebSocket 失敗", "remote", r.RemoteAddr, "error", err)
		return
	}

	g.handler.Handle(&wsFrameConn{conn: conn})
}

// wsFrameConn 以 WebSocket 連線承載訊框
type wsFrameConn struct {
	conn *websocket.Conn
}

func (c *wsFrameConn) ReadFrame() ([]byte, error) {
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerLost, err)
	}

	if len(payload) != FrameSize {
		return nil, fmt.Errorf("%w: 訊框長度 %d != %d", ErrMalformedMessage, len(payload), FrameSize)
	}
	return payload, nil
}

func (c *wsFrameConn) WriteFrame(frame []byte) error {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrPeerLost, err)
	}
	return nil
}

// SetReadDeadline 刻意不設期限：gorilla 的讀取期限一旦到期整條連線即失效，
// 無法像 TCP 那樣醒來後繼續讀。WebSocket 對端消失由 close frame 與
// Close() 取消機制偵測，不靠輪詢式期限。
func (c *wsFrameConn) SetReadDeadline(time.Time) error {
	return nil
}

func (c *wsFrameConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *wsFrameConn) Close() error {
	return c.conn.Close()
}
