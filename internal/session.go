package internal

import (
	"errors"
	"sync"
)

// 系統設計問題：
//   兩條獨立連接同時操作同一局棋，如何保證回合與棋盤狀態不被撕裂？
//
// 核心挑戰：
//   1. 狀態管理：對局有明確的狀態轉換（等待對手 → 進行中 → 終局）
//   2. 並發控制：兩步棋近乎同時到達，或一步棋與斷線互相競爭
//   3. 廣播順序：已接受的棋步必須在下一步被驗證之前推送給雙方
//   4. 即時拆除：任一方斷線即銷毀對局，無寬限期、無重連
//
// 設計方案：
//   ✅ 有限狀態機（FSM）- 規範狀態轉換
//   ✅ 每局一把 Mutex - join / submitMove / disconnect 全部互斥
//   ✅ 鎖內廣播入隊 - 順序保證由鎖 + 每連接發送緩衝共同提供
//   ✅ 靜默拒絕 - 非法棋步不改狀態、不發任何事件

// SessionState 對局狀態
//
// 有限狀態機設計：
//
//	awaiting_opponent → in_progress → terminal
//
// 狀態轉換規則：
//   - awaiting_opponent → in_progress：第二位玩家加入
//   - in_progress → terminal：所有格子填滿，或任一方斷線
//   - 沒有暫停、沒有棄局：斷線即立刻銷毀
//
// 為什麼需要狀態機？
//   - 防止非法操作（如開局前落子、終局後加入）
//   - 終局狀態一旦進入即不可逆，杜絕「復活」的對局
type SessionState string

const (
	StateAwaitingOpponent SessionState = "awaiting_opponent"
	StateInProgress       SessionState = "in_progress"
	StateTerminal         SessionState = "terminal"
)

// 協議規定的錯誤字串（經 ack 回傳給客戶端，內容不可改動）
var (
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrInvalidSize   = errors.New("invalid size")
	ErrInvalidCode   = errors.New("invalid code")
	ErrRoomFull      = errors.New("room full")
)

// Peer 對局所需的連接能力
//
// 為什麼定義接口？
//   - Session 層只需要身份識別與事件投遞，不需要知道 WebSocket 細節
//   - 測試時可用記錄事件的假連接替代，無需真實網路
type Peer interface {
	// ID 連接的唯一識別
	ID() string
	// Send 投遞一個事件（必須非阻塞：慢客戶端不能拖住對局鎖）
	Send(event string, data any)
}

// Session 一局對戰
//
// 並發控制：所有讀寫都經過 mu。對局鎖與 Registry 鎖互相獨立，
// 持有對局鎖時絕不回呼 Registry（避免鎖序死鎖）。
//
// 廣播順序保證：Send 在持鎖期間入隊，每條連接的發送緩衝保持
// 入隊順序，因此「第 N 步的廣播」必然先於「第 N+1 步的驗證與廣播」。
type Session struct {
	Code string
	Size int

	mu    sync.Mutex
	board *Board
	red   Peer
	blue  Peer
	turn  Color
	state SessionState
}

// NewSession 創建對局，開房者入座紅方
//
// 尺寸驗證（3 ≤ size ≤ 6）由 Registry 在生成房號之前完成。
func NewSession(code string, size int, creator Peer) *Session {
	return &Session{
		Code:  code,
		Size:  size,
		board: NewBoard(size),
		red:   creator,
		turn:  ColorRed,
		state: StateAwaitingOpponent,
	}
}

// Join 第二位玩家入座藍方
//
// 僅在 awaiting_opponent 狀態合法；成功後雙方各收到一條
// gameStarted（各自的顏色），狀態轉為 in_progress。
func (s *Session) Join(p Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateTerminal:
		// 正在銷毀中的對局對外表現為不存在
		return ErrInvalidCode
	case StateInProgress:
		return ErrRoomFull
	}
	if s.blue != nil {
		return ErrRoomFull
	}

	s.blue = p
	s.state = StateInProgress

	s.red.Send(EventGameStarted, gameStartedPayload{Size: s.Size, Color: ColorRed})
	s.blue.Send(EventGameStarted, gameStartedPayload{Size: s.Size, Color: ColorBlue})
	return nil
}

// MoveOutcome 一步棋對外的結算
//
// Terminal 為 true 時 Registry 負責移除對局；WinnerID 非空時
// Gateway 負責後續的勝者姓名 / 排行榜流程（在對局鎖之外異步進行）。
type MoveOutcome struct {
	Accepted   bool
	AddedBoxes int
	Terminal   bool
	WinnerID   string // 勝者連接 ID；平手或未終局時為空
}

// SubmitMove 提交一步棋
//
// 靜默拒絕（不改狀態、不發事件）的情形：
//   - 對局不在 in_progress
//   - 提交者不是入座的兩條連接之一
//   - 未輪到提交者
//   - 線段幾何不合法或已存在
//
// 接受後的事件順序（全部在持鎖期間入隊）：
//
//	addLine → [addBoxes] → gameOver | [updateTurn]
func (s *Session) SubmitMove(p Peer, l Line) MoveOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInProgress {
		return MoveOutcome{}
	}

	color, ok := s.colorOf(p)
	if !ok || color != s.turn {
		return MoveOutcome{}
	}

	result, err := s.board.ApplyMove(l, color)
	if err != nil {
		return MoveOutcome{}
	}

	s.broadcast(EventAddLine, encodeLine(result.Line))
	if len(result.AddedBoxes) > 0 {
		s.broadcast(EventAddBoxes, encodeBoxes(result.AddedBoxes))
	}

	outcome := MoveOutcome{Accepted: true, AddedBoxes: len(result.AddedBoxes)}

	if result.Terminal {
		s.broadcast(EventGameOver, nil)
		s.state = StateTerminal
		outcome.Terminal = true
		if winner, ok := s.board.Winner(); ok {
			if winner == ColorRed {
				outcome.WinnerID = s.red.ID()
			} else {
				outcome.WinnerID = s.blue.ID()
			}
		}
		return outcome
	}

	if !result.ExtraTurn {
		s.turn = s.turn.Opponent()
		s.broadcast(EventUpdateTurn, s.turn)
	}
	return outcome
}

// Disconnect 一方斷線，立即終結對局
//
// 回傳值表示這次調用是否真正執行了拆除（對局鎖保證恰好一次）；
// 留下的一方恰好收到一條 gameCancelled。
func (s *Session) Disconnect(p Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminal {
		return false
	}
	if _, ok := s.colorOf(p); !ok {
		return false
	}

	s.state = StateTerminal

	if other := s.other(p); other != nil {
		other.Send(EventGameCancelled, nil)
	}
	return true
}

// State 當前狀態（測試與 /stats 用）
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Turn 當前輪到的顏色
func (s *Session) Turn() Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// BoardCounts 已落線段數與已完成格子數
func (s *Session) BoardCounts() (lines, boxes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.board.Lines), len(s.board.Boxes)
}

// PeerIDs 入座連接的 ID（Registry 移除索引時使用）
func (s *Session) PeerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := []string{s.red.ID()}
	if s.blue != nil {
		ids = append(ids, s.blue.ID())
	}
	return ids
}

// colorOf 調用方必須持鎖
func (s *Session) colorOf(p Peer) (Color, bool) {
	switch {
	case s.red != nil && s.red.ID() == p.ID():
		return ColorRed, true
	case s.blue != nil && s.blue.ID() == p.ID():
		return ColorBlue, true
	default:
		return "", false
	}
}

// other 調用方必須持鎖
func (s *Session) other(p Peer) Peer {
	if s.red != nil && s.red.ID() == p.ID() {
		return s.blue
	}
	return s.red
}

// broadcast 調用方必須持鎖
func (s *Session) broadcast(event string, data any) {
	s.red.Send(event, data)
	if s.blue != nil {
		s.blue.Send(event, data)
	}
}
