// Package leaderboard 實現勝場排行榜的存儲後端
//
// 存儲架構：
//
//	V1：Memory（單機、開發測試）
//	V2：PostgreSQL（持久化、生產環境）
//
// 排行榜是對局核心之外的協作方：寫入失敗只記錄日誌，
// 絕不影響對局的結算與拆除。
package leaderboard

import (
	"context"
	"strings"
)

// Entry 排行榜記錄
//
// Name 是唯一鍵（寫入前經 Normalize 正規化）；Wins ≥ 0。
type Entry struct {
	Name string `json:"name"`
	Wins int    `json:"wins"`
}

// Store 排行榜存儲接口
//
// 系統設計考量：
//
// 1. 寫入模式：只有一種變更——「為 name 勝場 +1，不存在則以 1 創建」。
//    沒有刪除、沒有重置，存儲層只需一個原子的 upsert。
//
// 2. 一致性：勝場計數允許在存儲故障時丟失（對局結果已成定局，
//    排行榜只是附帶記錄），所以調用方對錯誤的處理是記錄後跳過。
//
// 3. 讀取模式：只讀 top-N（N=10），按勝場降序。
type Store interface {
	// RecordWin 為 name 勝場 +1（不存在則以 wins=1 創建）
	//
	// name 必須已經過 Normalize；空名由調用方在正規化後過濾，
	// 不會到達存儲層。
	RecordWin(ctx context.Context, name string) error

	// TopN 按勝場降序回傳前 n 名
	TopN(ctx context.Context, n int) ([]Entry, error)
}

// Normalize 正規化玩家名稱：去除首尾空白、轉小寫
//
// 正規化後為空的名稱不寫入排行榜。
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
