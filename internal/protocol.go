package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// 系統設計問題：
//   如何在一條持久 TCP 連線上切分「一請求一回應」的訊息邊界？
//
// 核心挑戰：
//   1. 訊息邊界：TCP 是位元組流，沒有天然的訊息分隔
//   2. 簡單性：客戶端用一次 recv 就要拿到完整訊息，不做流重組
//   3. 大小上限：每則訊息都是單一棋盤座標或小型狀態字典，遠小於 4KB
//
// 設計方案：
//   ✅ 固定長度訊框 - 每則訊息恰好 FrameSize 位元組
//   ✅ 填充字元 '*' - 左側補滿，解碼時整批剝除
//   ✅ JSON 酬載 - 與既有客戶端的線上格式完全相容
//
// 取捨：固定訊框換來 O(N) 的填充成本與硬性大小上限，
// 但省去長度前綴解析與流重組邏輯；以本系統的訊息體積完全可接受。

const (
	// FrameSize 每個訊框的固定位元組數
	FrameSize = 4096

	// filler 填充字元；不會出現在任何合法 JSON 酬載中（編碼端強制檢查）
	filler = byte('*')
)

// 協定層錯誤
var (
	// ErrOversizePayload 酬載序列化後超過訊框大小，屬於硬性協定上限，重試無法恢復
	ErrOversizePayload = errors.New("酬載超過訊框大小上限")

	// ErrFillerCollision 酬載內含填充字元，編碼後將無法還原
	ErrFillerCollision = errors.New("酬載含有填充字元")

	// ErrMalformedMessage 剝除填充後的內容不是合法 JSON
	ErrMalformedMessage = errors.New("無法解析的訊息")
)

// Position 棋盤座標，線上格式為 [col, row]
type Position [2]int

// Col 取得欄座標
func (p Position) Col() int { return p[0] }

// Row 取得列座標
func (p Position) Row() int { return p[1] }

// Grid 10×10 佈局棋盤；格子為棋子識別名或空字串，被擊中的格子標記為 "X"
type Grid [][]string

// Request 客戶端送來的單一請求
//
// 兩種形態：
//   - 初始訊框：{action: "auth:*"} 或 {username, room_id?, user_id?}
//   - 後續請求：以 request 欄位分派（ship_locked、attack_tile、game_data…）
type Request struct {
	// 初始訊框欄位
	Action   string `json:"action,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	UserID   int    `json:"user_id,omitempty"`
	RoomID   *int   `json:"room_id,omitempty"`

	// 一般請求欄位
	Request  string    `json:"request,omitempty"`
	Grid     Grid      `json:"grid,omitempty"`
	Position *Position `json:"position,omitempty"`

	// 統計委派欄位
	Limit            int         `json:"limit,omitempty"`
	OpponentUsername string      `json:"opponent_username,omitempty"`
	GameData         *GameRecord `json:"game_data,omitempty"`
}

// Response 回應酬載；與既有客戶端相容的鬆散 JSON 物件
type Response map[string]any

// errorResponse 以回應形式回傳可恢復的錯誤（不中斷連線）
func errorResponse(err error) Response {
	return Response{"error": err.Error()}
}

// EncodeFrame 將酬載序列化並左側填充至恰好 FrameSize 位元組
func EncodeFrame(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化酬載失敗: %w", err)
	}

	if len(data) > FrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrOversizePayload, len(data), FrameSize)
	}

	// 解碼端會剝除所有填充字元，酬載內不允許出現
	if bytes.IndexByte(data, filler) >= 0 {
		return nil, ErrFillerCollision
	}

	frame := make([]byte, FrameSize)
	padding := FrameSize - len(data)
	for i := 0; i < padding; i++ {
		frame[i] = filler
	}
	copy(frame[padding:], data)

	return frame, nil
}

// DecodeFrame 剝除訊框中所有填充字元並將剩餘內容解析為 v
func DecodeFrame(frame []byte, v any) error {
	payload := bytes.ReplaceAll(frame, []byte{filler}, nil)

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}
