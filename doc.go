// Package dotsandboxes 提供了一個雙人點格棋（Dots and Boxes）對戰服務器。
//
// 實現了房號配對、棋步裁決與勝場排行榜，包含以下核心功能：
//
// 對局協調
//
// 提供完整的對局生命週期管理：
//   - 數字房號生成與配對（開房者紅方、加入者藍方）
//   - 回合輪轉與額外一手規則（完成格子者再走一步）
//   - 終局判定與勝方結算
//   - 斷線即時拆除（無寬限期、無重連）
//
// # WebSocket 通訊
//
// 實現了即時雙向事件流：
//   - newGame / joinGame 帶 ack 回應（Seq 配對）
//   - addLine / addBoxes / updateTurn 對局廣播
//   - 支援心跳檢測（Ping/Pong，54s/60s）
//   - 畸形負載靜默丟棄（不崩潰、不回應）
//
// 併發安全設計
//
// 採用了分層的併發控制策略：
//   - 每局一把互斥鎖：兩步棋或棋步與斷線絕不交錯
//   - 註冊表讀寫鎖：房號生成 / 註冊 / 移除串行化
//   - 鎖內廣播入隊：已接受棋步的廣播先於下一步的驗證
//
// 排行榜
//
// 勝者經 promptWinnerName 往返提交姓名後寫入排行榜：
//   - 內存後端：開發與測試
//   - PostgreSQL 後端：INSERT ... ON CONFLICT 原子累加
//   - 存儲故障只跳過更新，絕不影響對局拆除
//
// 架構設計
//
// 系統採用分層架構設計：
//   - Board 層：純幾何運算（線段、格子、終局）
//   - Session 層：單局狀態機（入座、棋步、斷線）
//   - Registry 層：房號 → 對局映射與連接歸屬
//   - Gateway 層：WebSocket 協議翻譯與事件扇出
//
// 每層都有明確的職責邊界，Gateway 絕不直接改棋盤狀態。
//
// 配置選項
//
// 支援多種運行時配置：
//   - PORT：監聽端口（環境變量，必填）
//   - DATABASE_URL：排行榜 PostgreSQL 連接串（可選）
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -log-format：日誌格式（text/json）
//
// 監控與除錯
//
// 內建監控端點：
//   - /health 健康檢查
//   - /stats 對局統計
//   - /metrics Prometheus 指標
package dotsandboxes
