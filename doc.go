// Package battleship 提供了一個房間制的即時海戰棋對戰伺服器。
//
// 實現了雙人回合制對戰的完整後端，包含以下核心功能：
//
// # 固定幀訊息協定
//
// 所有請求與回應都是 4096 位元組的定長幀：
//   - JSON 酬載左側以 '*' 填充至固定長度
//   - 解碼端剝除全部填充字元後解析
//   - 超長與含填充字元的酬載在編碼端即拒絕
//
// # 房間與對戰狀態機
//
// 每個房間承載一場雙人對戰，狀態依序推進：
//   - waiting：等待第二位玩家
//   - ship_lock：雙方布陣並鎖定艦隊
//   - battle：回合制攻擊，命中保留回合、落空換手
//   - finished：五艦全沉、逾時三次或中途退出判定勝負
//
// # 併發安全設計
//
// 採用了多層次的併發控制策略：
//   - 房間註冊表與單一房間各自持有讀寫鎖
//   - 狀態變更在單一臨界區內完成，勝負判定不可逆
//   - 每條連線一個 goroutine，以讀取期限輪詢驅動
//
// # 使用範例
//
// 啟動伺服器：
//
//	registry := internal.NewRegistry(logger)
//	handler := internal.NewHandler(registry, internal.NewMemoryHistory(), internal.NewMemoryAuthenticator(), logger)
//	server := internal.NewServer(handler, registry, logger)
//	if err := server.Start(":5002"); err != nil {
//	    log.Fatal(err)
//	}
//
// 瀏覽器客戶端走 WebSocket 閘道，承載同一套定長幀：
//
//	gateway := internal.NewWSGateway(handler, logger)
//	http.HandleFunc("/ws", gateway.ServeWS)
//
// # 架構設計
//
// 系統採用分層架構設計：
//   - Server 層：TCP 監聽與連線生命週期
//   - Handler 層：解析請求並分派到大廳或房間
//   - Registry 層：房間註冊表與大廳連線管理
//   - Room 層：對戰狀態機與回合規則
//   - HistoryStore 層：戰績持久化（memory/redis/postgres）
//
// 每層都有明確的職責邊界，透過介面進行交互，便於測試與擴展。
//
// # 配置選項
//
// 支援多種運行時配置：
//   - -config：配置檔案路徑（預設 config.yaml）
//   - -port：TCP 對戰埠口（覆蓋配置檔）
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -log-format：日誌格式（text/json）
package battleship
