package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	// MaxTimeouts 累計逾時達此數即判負
	MaxTimeouts = 3

	// handshakeTimeout 初始訊框的等待上限
	handshakeTimeout = 30 * time.Second

	// readTimeout 請求間的讀取期限；連線 goroutine 靠它週期性醒來
	readTimeout = time.Second
)

// Handler 每連線一個 goroutine 的請求處理器
//
// 嚴格的一請求一回應：讀一個訊框、產生恰好一個回應訊框、再讀下一個，
// 伺服器不主動推送。客戶端以固定頻率輪詢房間狀態。
//
// 錯誤傳播：
//   - 協定錯誤與對端斷線終止該連線的迴圈，走與明確 disconnect 相同的
//     清理路徑（移出房間、評估棄權）
//   - 房間已滿與非法狀態以錯誤回應回給客戶端，連線不中斷
type Handler struct {
	registry *Registry
	history  HistoryStore
	auth     Authenticator
	logger   *slog.Logger
}

// NewHandler 創建連線處理器
func NewHandler(registry *Registry, history HistoryStore, auth Authenticator, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		history:  history,
		auth:     auth,
		logger:   logger,
	}
}

// Handle 處理一條連線的完整生命週期
//
// 初始訊框決定連線形態：
//   - action 為 auth:* → 委派驗證協作者，單次回應後關閉
//   - 無 room_id → 大廳連線（瀏覽房間、分配房號、統計委派）
//   - 有 room_id → 取得或創建房間並以玩家身分進入
func (h *Handler) Handle(conn FrameConn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		h.logger.Info("連線在握手前中斷", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	var req Request
	if err := DecodeFrame(frame, &req); err != nil {
		h.logger.Warn("初始訊框無法解析", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	if strings.HasPrefix(req.Action, "auth:") {
		h.handleAuth(conn, req)
		return
	}

	if req.Username == "" {
		h.logger.Warn("初始訊框缺少玩家名稱", "remote", conn.RemoteAddr())
		return
	}

	if req.RoomID == nil {
		h.serveLobby(conn, req.Username)
		return
	}

	h.serveRoom(conn, req.Username, *req.RoomID, req.UserID)
}

// handleAuth 委派驗證請求；單次回應後連線即關閉（不保留驗證連線）
func (h *Handler) handleAuth(conn FrameConn, req Request) {
	ctx := context.Background()

	var resp Response
	switch req.Action {
	case "auth:login":
		user, err := h.auth.Login(ctx, req.Username, req.Password)
		switch {
		case errors.Is(err, ErrAlreadyOnline):
			resp = Response{"success": false, "message": fmt.Sprintf("帳號 %q 已在別處登入", req.Username)}
		case err != nil:
			resp = Response{"success": false, "message": "帳號或密碼錯誤"}
		default:
			resp = Response{"success": true, "message": "登入成功", "user": user}
		}

	case "auth:register":
		user, err := h.auth.Register(ctx, req.Username, req.Password)
		switch {
		case errors.Is(err, ErrUsernameTaken):
			resp = Response{"success": false, "message": "帳號名稱已存在"}
		case err != nil:
			resp = Response{"success": false, "message": "註冊失敗"}
		default:
			resp = Response{"success": true, "message": "註冊成功", "user": user}
		}

	case "auth:logout":
		if err := h.auth.Logout(ctx, req.UserID); err != nil {
			resp = Response{"success": false, "message": err.Error()}
		} else {
			resp = Response{"success": true, "message": "已登出"}
		}

	default:
		resp = Response{"success": false, "message": "未知的驗證動作"}
	}

	h.send(conn, resp)
}

// serveLobby 服務尚未進房的大廳連線
func (h *Handler) serveLobby(conn FrameConn, username string) {
	h.registry.RegisterLobby(username, conn)
	defer func() {
		h.registry.UnregisterLobby(username)
		h.logger.Info("大廳連線結束", "username", username)
	}()

	h.logger.Info("玩家進入大廳", "username", username, "remote", conn.RemoteAddr())
	if err := h.send(conn, Response{"status": "connected", "mode": "lobby"}); err != nil {
		return
	}

	for {
		req, err := h.nextRequest(conn)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}

		// 大廳也接受登出動作（客戶端關閉前的最後一搏）
		if req.Action == "auth:logout" {
			if err := h.auth.Logout(context.Background(), req.UserID); err != nil {
				h.send(conn, Response{"success": false, "error": err.Error()})
			} else {
				h.send(conn, Response{"success": true})
			}
			continue
		}

		var resp Response
		done := false
		switch req.Request {
		case "disconnect":
			resp = Response{"message": "disconnecting"}
			done = true

		case "ping":
			resp = Response{"message": "pong"}

		case "get_rooms":
			resp = Response{"rooms": h.registry.ListJoinableRooms()}

		case "create_room":
			resp = Response{"room_id": h.registry.AllocateRoomID()}

		default:
			if delegated, ok := h.historyResponse(req); ok {
				resp = delegated
			} else {
				resp = Response{"message": "ok"}
			}
		}

		if err := h.send(conn, resp); err != nil {
			return
		}
		if done {
			return
		}
	}
}

// serveRoom 以玩家身分進入房間並服務對戰請求
func (h *Handler) serveRoom(conn FrameConn, username string, roomID, userID int) {
	room, err := h.registry.GetOrCreateRoom(roomID, username)
	if err != nil {
		h.send(conn, errorResponse(err))
		return
	}

	if err := room.AddParticipant(username, userID); err != nil {
		h.send(conn, errorResponse(err))
		return
	}

	// 斷線、協定錯誤與明確離開共用同一條清理路徑：
	// 移出房間（房間內部評估棄權）、空房間即銷毀
	defer func() {
		h.registry.DetachParticipant(roomID, username)
		h.logger.Info("玩家離開房間", "room_id", roomID, "username", username)
	}()

	h.logger.Info("玩家加入房間", "room_id", roomID, "username", username, "remote", conn.RemoteAddr())
	if err := h.send(conn, Response{"status": "connected", "room_id": roomID}); err != nil {
		return
	}

	for {
		req, err := h.nextRequest(conn)
		if err != nil {
			if isTimeout(err) {
				// 期限到期是正常的；醒來順便檢查房間是否已無繼續服務的必要
				if room.Status() == StatusFinished && room.ParticipantCount() < MaxParticipants {
					return
				}
				continue
			}
			h.logger.Info("房間連線中斷", "room_id", roomID, "username", username, "error", err)
			return
		}

		resp := h.processRoomRequest(req, username, room)
		if err := h.send(conn, resp); err != nil {
			return
		}

		if req.Request == "disconnect" {
			return
		}
	}
}

// processRoomRequest 解算一個房間請求並產生回應
func (h *Handler) processRoomRequest(req Request, username string, room *Room) Response {
	switch req.Request {
	case "ship_locked":
		if err := room.LockPlacement(username, req.Grid); err != nil {
			return errorResponse(err)
		}
		return Response{"message": "ok"}

	case "attack_tile":
		if req.Position == nil {
			return errorResponse(fmt.Errorf("%w: 缺少攻擊座標", ErrInvalidState))
		}
		shipName, err := room.Attack(username, *req.Position)
		if err != nil {
			return errorResponse(err)
		}
		return Response{"attacked": shipName}

	case "game_data":
		return room.GameData()

	case "game_status":
		return Response{"game_status": string(room.Status())}

	case "winner":
		return Response{"winner": room.Winner()}

	case "timeout":
		count, err := room.ReportTimeout(username)
		if err != nil {
			return errorResponse(err)
		}
		// 終局判定在 ReportTimeout 的鎖外進行，以讀出的累計值決定
		if count >= MaxTimeouts {
			room.Forfeit(username)
			return Response{"message": "game_over_timeout", "timeout_count": count}
		}
		return Response{"message": "turn_ended", "timeout_count": count}

	case "clear_ship_sunk":
		room.ClearSunkNotice(username)
		return Response{"message": "ok"}

	case "player_quit":
		room.Quit(username)
		return Response{"message": "quit_acknowledged"}

	case "disconnect":
		return Response{"message": "disconnecting"}
	}

	if resp, ok := h.historyResponse(req); ok {
		return resp
	}
	return Response{"message": "unknown request"}
}

// historyResponse 將統計/歷史請求原封不動委派給持久化協作者
func (h *Handler) historyResponse(req Request) (Response, bool) {
	ctx := context.Background()

	switch req.Request {
	case "save_game_history":
		if req.GameData == nil {
			return Response{"message": "error", "error": "缺少結算資料"}, true
		}
		if err := h.history.SaveGame(ctx, req.GameData); err != nil {
			h.logger.Error("儲存對戰結算失敗", "error", err)
			return Response{"message": "error", "error": err.Error()}, true
		}
		return Response{"message": "saved", "success": true}, true

	case "get_user_stats":
		stats, err := h.history.UserStats(ctx, req.UserID)
		if err != nil {
			h.logger.Error("查詢玩家統計失敗", "user_id", req.UserID, "error", err)
			return Response{"error": err.Error()}, true
		}
		return Response{"stats": stats}, true

	case "get_recent_games":
		games, err := h.history.RecentGames(ctx, req.UserID, req.Limit)
		if err != nil {
			h.logger.Error("查詢近期對戰失敗", "user_id", req.UserID, "error", err)
			return Response{"error": err.Error()}, true
		}
		return Response{"games": games}, true

	case "get_win_streak":
		streak, err := h.history.WinStreak(ctx, req.UserID)
		if err != nil {
			h.logger.Error("查詢連勝失敗", "user_id", req.UserID, "error", err)
			return Response{"error": err.Error()}, true
		}
		return Response{"streak": streak}, true

	case "get_opponent_stats":
		if req.OpponentUsername == "" {
			return Response{"success": false, "error": "缺少對手名稱"}, true
		}
		stats, err := h.history.UserStatsByName(ctx, req.OpponentUsername)
		if err != nil {
			h.logger.Error("查詢對手統計失敗", "opponent", req.OpponentUsername, "error", err)
			return Response{"success": false, "error": err.Error()}, true
		}
		if stats == nil {
			return Response{"success": false, "error": "查無此玩家或尚無對戰"}, true
		}
		return Response{"success": true, "stats": stats}, true
	}

	return nil, false
}

// nextRequest 帶讀取期限地讀入並解析下一個請求
//
// 解析失敗視為協定錯誤回傳；呼叫端會終止該連線。
func (h *Handler) nextRequest(conn FrameConn) (Request, error) {
	var req Request

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return req, fmt.Errorf("%w: %v", ErrPeerLost, err)
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		return req, err
	}

	if err := DecodeFrame(frame, &req); err != nil {
		return req, err
	}
	return req, nil
}

// send 編碼並送出一個回應訊框
func (h *Handler) send(conn FrameConn, payload Response) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		h.logger.Error("編碼回應失敗", "error", err)
		return err
	}
	if err := conn.WriteFrame(frame); err != nil {
		return err
	}
	return nil
}
