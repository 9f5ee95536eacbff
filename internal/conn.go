package internal

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrPeerLost 對端連線中斷；觸發與明確 disconnect 相同的清理路徑
var ErrPeerLost = errors.New("對端連線中斷")

// FrameConn 一條可收發固定長度訊框的連線
//
// 傳輸層抽象：TCP 與 WebSocket 都以相同的訊框承載相同的協定，
// 連線處理器不需要知道底下是哪一種。
type FrameConn interface {
	// ReadFrame 讀入恰好 FrameSize 位元組的下一個訊框
	ReadFrame() ([]byte, error)

	// WriteFrame 送出一個完整訊框
	WriteFrame(frame []byte) error

	// SetReadDeadline 設定下一次讀取的期限；連線 goroutine 靠它週期性醒來
	// 檢查是否該退出，而非永久阻塞在一條不會再有資料的 socket 上
	SetReadDeadline(t time.Time) error

	// RemoteAddr 對端位址（日誌用）
	RemoteAddr() net.Addr

	// Close 關閉連線；這是唯一的取消機制，沒有獨立的取消令牌
	Close() error
}

// tcpFrameConn 以原生 TCP 連線承載訊框
type tcpFrameConn struct {
	conn net.Conn
}

// NewTCPFrameConn 包裝一條 TCP 連線
func NewTCPFrameConn(conn net.Conn) FrameConn {
	return &tcpFrameConn{conn: conn}
}

func (c *tcpFrameConn) ReadFrame() ([]byte, error) {
	frame := make([]byte, FrameSize)
	if _, err := io.ReadFull(c.conn, frame); err != nil {
		// 讀取期限到期不是斷線，讓呼叫端分辨後繼續輪詢
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPeerLost, err)
	}
	return frame, nil
}

func (c *tcpFrameConn) WriteFrame(frame []byte) error {
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrPeerLost, err)
	}
	return nil
}

func (c *tcpFrameConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpFrameConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *tcpFrameConn) Close() error {
	return c.conn.Close()
}

// isTimeout 判斷錯誤是否為讀取期限到期
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
