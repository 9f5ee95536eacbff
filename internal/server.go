package internal

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Server TCP 監聽/派發器
//
// 排程模型：每連線一個 goroutine。註冊表與房間是鎖保護的共享狀態而非
// 訊息傳遞——每房恰好兩個寫入者，這是刻意的簡化取捨。
type Server struct {
	handler  *Handler
	registry *Registry
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServer 創建伺服器
func NewServer(handler *Handler, registry *Registry, logger *slog.Logger) *Server {
	return &Server{
		handler:  handler,
		registry: registry,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Start 開始在 addr 上監聽並接受連線
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("對戰伺服器啟動", "addr", ln.Addr().String())

	s.wg.Add(2)
	go s.acceptLoop(ln)
	go s.statsLoop()

	return nil
}

// Addr 實際監聽位址（測試以 :0 啟動時取得埠號）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptLoop 接受連線並為每條連線派發一個處理 goroutine
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("接受連線失敗", "error", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			s.handler.Handle(NewTCPFrameConn(conn))
		}()
	}
}

// statsLoop 週期性輸出診斷統計（取代原系統的管理視窗輪詢）
func (s *Server) statsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := s.registry.Stats()
			s.logger.Info("伺服器統計",
				"rooms", stats["total_rooms"],
				"players", stats["total_players"],
				"lobby", stats["lobby_clients"])
		case <-s.stopCh:
			return
		}
	}
}

// Stop 停止伺服器：關閉監聽、等待所有連線 goroutine 結束
//
// 關閉 socket 是唯一的取消機制；各連線 goroutine 會在下一次讀取時
// 得到錯誤並走正常清理路徑退出。
func (s *Server) Stop() {
	close(s.stopCh)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("伺服器已停止")
}
