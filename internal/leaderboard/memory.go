package leaderboard

import (
	"context"
	"sort"
	"sync"
)

// Memory 內存存儲實現（V1 架構）
//
// 使用場景：
//   - 開發環境快速測試（未設置 DATABASE_URL 時的默認後端）
//   - 單元測試（隔離外部依賴，不需要 Mock）
//
// 系統設計權衡：
//   ✅ 零延遲、零依賴
//   ❌ 不持久化（重啟丟失）、單機限制
type Memory struct {
	mu   sync.RWMutex
	wins map[string]int
}

// NewMemory 創建內存存儲實例
func NewMemory() *Memory {
	return &Memory{
		wins: make(map[string]int),
	}
}

// RecordWin 為 name 勝場 +1
func (m *Memory) RecordWin(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wins[name]++
	return nil
}

// TopN 按勝場降序回傳前 n 名
//
// 同勝場時按名稱升序，保證結果順序確定（便於測試比對）。
func (m *Memory) TopN(ctx context.Context, n int) ([]Entry, error) {
	m.mu.RLock()
	entries := make([]Entry, 0, len(m.wins))
	for name, wins := range m.wins {
		entries = append(entries, Entry{Name: name, Wins: wins})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Wins != entries[j].Wins {
			return entries[i].Wins > entries[j].Wins
		}
		return entries[i].Name < entries[j].Name
	})

	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}
