package internal

import (
	"encoding/json"
	"errors"
)

// 協議事件名稱
//
// 客戶端 → 服務器：newGame、joinGame、addLine、ack（回應服務器的提問）
// 服務器 → 客戶端：gameStarted、addLine、addBoxes、updateTurn、
// gameOver、gameCancelled、promptWinnerName、displayLeaderboard、ack
const (
	EventNewGame            = "newGame"
	EventJoinGame           = "joinGame"
	EventAddLine            = "addLine"
	EventAddBoxes           = "addBoxes"
	EventUpdateTurn         = "updateTurn"
	EventGameStarted        = "gameStarted"
	EventGameOver           = "gameOver"
	EventGameCancelled      = "gameCancelled"
	EventPromptWinnerName   = "promptWinnerName"
	EventDisplayLeaderboard = "displayLeaderboard"
	EventAck                = "ack"
)

// Envelope 消息封套
//
// 設計考量：
//   - Seq 用於請求/回應配對（模擬 socket.io 的 ack callback）：
//     攜帶 Seq 的請求期望收到同 Seq 的 ack 事件
//   - Data 延遲解析（json.RawMessage）：封套解析成功後
//     再按事件類型解析負載，負載格式錯誤時整條消息靜默丟棄
type Envelope struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ackPayload ack 事件的負載
//
// Error 為 nil 表示成功；非 nil 時為協議規定的錯誤字串
// （"already in a room"、"invalid size"、"invalid code"、"room full"）。
type ackPayload struct {
	Error *string `json:"error"`
	Code  string  `json:"code,omitempty"`
}

// gameStartedPayload gameStarted 事件的負載
type gameStartedPayload struct {
	Size  int   `json:"size"`
	Color Color `json:"color"`
}

var errBadPayload = errors.New("負載格式錯誤")

// encodeLine 線段的線上表示：[x1, y1, x2, y2, color]
func encodeLine(l Line) []any {
	return []any{l.X1, l.Y1, l.X2, l.Y2, l.Color}
}

// encodeBoxes 格子批量的線上表示：[[x, y, color], ...]
func encodeBoxes(boxes []Box) [][]any {
	out := make([][]any, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, []any{b.X, b.Y, b.Color})
	}
	return out
}

// decodeLine 解析客戶端提交的線段：[x1, y1, x2, y2]
//
// 只做形狀檢查（恰好四個整數）；幾何合法性由 Board 層驗證。
func decodeLine(data json.RawMessage) (Line, error) {
	var coords []int
	if err := json.Unmarshal(data, &coords); err != nil {
		return Line{}, errBadPayload
	}
	if len(coords) != 4 {
		return Line{}, errBadPayload
	}
	return Line{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}, nil
}
