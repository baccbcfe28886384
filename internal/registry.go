package internal

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry 對局註冊表
//
// 進程級共享資源：房號 → 對局的映射，以及連接 → 房號的反向索引。
//
// 系統設計考量：
//
//  1. 鎖的分層：
//     - Registry 鎖只保護兩張映射表，與每局的對局鎖互相獨立
//     - 生成房號 / 註冊 / 移除在 Registry 鎖下串行，
//       杜絕兩局拿到同一房號、或移除操作丟失
//     - 鎖序固定為 Registry → Session；Session 層絕不回呼 Registry
//
//  2. 連接歸屬（byConn 反向索引）：
//     - 一條連接同時至多屬於一局；重複開房 / 加入回 already in a room
//     - 斷線處理用它找回所屬對局，不依賴枚舉
//
//  3. 生命週期：
//     - 對局終局（棋盤填滿）或任一方斷線後立即移除
//     - 房號在對局存活期間絕不重用
type Registry struct {
	mu            sync.RWMutex
	sessions      map[string]*Session // code -> session
	byConn        map[string]string   // connID -> code
	codesByLength map[int]int         // 房號長度 -> 在用數量（空間滿了就擴位）
	logger        *slog.Logger
	metrics       *Metrics
}

// NewRegistry 創建註冊表
func NewRegistry(logger *slog.Logger, metrics *Metrics) *Registry {
	return &Registry{
		sessions:      make(map[string]*Session),
		byConn:        make(map[string]string),
		codesByLength: make(map[int]int),
		logger:        logger,
		metrics:       metrics,
	}
}

// CreateSession 開新對局，開房者入座紅方
func (r *Registry) CreateSession(p Peer, size int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seated := r.byConn[p.ID()]; seated {
		return nil, ErrAlreadyInRoom
	}
	if size < MinSize || size > MaxSize {
		return nil, ErrInvalidSize
	}

	code := r.generateCode()
	session := NewSession(code, size, p)

	r.sessions[code] = session
	r.byConn[p.ID()] = code
	r.codesByLength[len(code)]++

	r.metrics.SessionsCreated.Inc()
	r.metrics.ActiveSessions.Inc()
	r.logger.Info("對局已創建",
		"code", code,
		"size", size,
		"conn_id", p.ID())

	return session, nil
}

// JoinSession 加入既有對局，入座藍方
func (r *Registry) JoinSession(p Peer, code string) (*Session, error) {
	r.mu.RLock()
	if _, seated := r.byConn[p.ID()]; seated {
		r.mu.RUnlock()
		return nil, ErrAlreadyInRoom
	}
	session, exists := r.sessions[code]
	r.mu.RUnlock()

	if !exists {
		return nil, ErrInvalidCode
	}

	// 對局鎖內完成入座與 gameStarted 廣播
	if err := session.Join(p); err != nil {
		return nil, err
	}

	// 入座成功後登記反向索引。若此刻對局已被紅方斷線拆除，
	// 藍方已收到 gameCancelled，索引就不再寫入。
	r.mu.Lock()
	if r.sessions[code] == session {
		r.byConn[p.ID()] = code
	}
	r.mu.Unlock()

	r.logger.Info("對局開始",
		"code", code,
		"conn_id", p.ID())

	return session, nil
}

// SubmitMove 轉交一步棋給連接所屬的對局
//
// 連接不屬於任何對局時靜默忽略（fire-and-forget 協議語義）。
// 終局的對局在此處立即移除，之後同房號的任何事件都不再可達。
func (r *Registry) SubmitMove(p Peer, l Line) MoveOutcome {
	session := r.FindByConnection(p)
	if session == nil {
		return MoveOutcome{}
	}

	outcome := session.SubmitMove(p, l)
	if outcome.Accepted {
		r.metrics.Moves.Inc()
		r.metrics.Boxes.Add(float64(outcome.AddedBoxes))
	}

	if outcome.Terminal {
		r.remove(session.Code)
		r.metrics.SessionsCompleted.Inc()
		r.logger.Info("對局結束", "code", session.Code)
	}
	return outcome
}

// Disconnect 連接斷開：拆除其所屬對局並通知留下的一方
func (r *Registry) Disconnect(p Peer) {
	r.mu.RLock()
	code, seated := r.byConn[p.ID()]
	session := r.sessions[code]
	r.mu.RUnlock()

	if !seated {
		return
	}
	if session == nil {
		// 對局已被其他路徑移除，清掉殘留索引即可
		r.mu.Lock()
		delete(r.byConn, p.ID())
		r.mu.Unlock()
		return
	}

	if session.Disconnect(p) {
		r.metrics.SessionsCancelled.Inc()
		r.logger.Info("對局取消", "code", code, "conn_id", p.ID())
	}
	r.remove(code)
}

// FindByConnection 找回連接所屬的對局；不屬於任何對局時回 nil
func (r *Registry) FindByConnection(p Peer) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, seated := r.byConn[p.ID()]
	if !seated {
		return nil
	}
	return r.sessions[code]
}

// Count 在用對局數
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stats 統計資訊（/stats 端點）
func (r *Registry) Stats() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byState := make(map[SessionState]int)
	for _, s := range r.sessions {
		byState[s.State()]++
	}

	return map[string]any{
		"total_sessions": len(r.sessions),
		"by_state":       byState,
	}
}

// Stop 停止註冊表（進程關閉時）
//
// 連接層關閉時各局會經由 Disconnect 路徑自行拆除；
// 這裡只做最後的清空與記錄。
func (r *Registry) Stop() {
	r.mu.Lock()
	remaining := len(r.sessions)
	r.sessions = make(map[string]*Session)
	r.byConn = make(map[string]string)
	r.codesByLength = make(map[int]int)
	r.mu.Unlock()

	r.logger.Info("對局註冊表已停止", "remaining", remaining)
}

// 房號生成參數
const (
	codeBaseLength   = 4  // 起始位數
	codeRandomProbes = 32 // 順序掃描前的隨機探測次數
)

// generateCode 生成未被占用的數字房號（調用方必須持寫鎖）
//
// 演算法（保證終止）：
//  1. 從 4 位開始；若該位數的空間已被占滿，直接擴展到下一位數
//  2. 先隨機探測若干次（常態下一次命中）
//  3. 探測落空則從隨機起點順序掃描整個空間——只要空間未滿必然找到
//
// 相比「碰撞一次就加長」的啟發式，這個策略既保證終止，
// 又不會在低佔用時無謂地拉長房號。
func (r *Registry) generateCode() string {
	for length := codeBaseLength; ; length++ {
		space := pow10(length)
		if r.codesByLength[length] >= space {
			continue
		}

		for i := 0; i < codeRandomProbes; i++ {
			code := formatCode(randInt(space), length)
			if _, used := r.sessions[code]; !used {
				return code
			}
		}

		start := randInt(space)
		for i := 0; i < space; i++ {
			code := formatCode((start+i)%space, length)
			if _, used := r.sessions[code]; !used {
				return code
			}
		}
	}
}

// remove 移除對局並清理索引
func (r *Registry) remove(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[code]
	if !exists {
		return
	}

	delete(r.sessions, code)
	r.codesByLength[len(code)]--

	for _, id := range session.PeerIDs() {
		if r.byConn[id] == code {
			delete(r.byConn, id)
		}
	}

	r.metrics.ActiveSessions.Dec()
}

// formatCode 固定位數、允許前導零
func formatCode(n, length int) string {
	return fmt.Sprintf("%0*d", length, n)
}

func pow10(n int) int {
	result := 1
	for i := 0; i < n; i++ {
		result *= 10
	}
	return result
}

// randInt 生成 [0, max) 的隨機數
func randInt(max int) int {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// 隨機讀取失敗時退回時間作為隨機源
		return int(time.Now().UnixNano()) % max
	}
	return int(binary.BigEndian.Uint32(b[:]) % uint32(max))
}
