package internal

import "errors"

// 系統設計問題：
//   如何表示點格棋（Dots and Boxes）的棋盤幾何，並在每一步判定格子完成？
//
// 核心挑戰：
//   1. 線段識別：同一條線段有兩種端點順序，必須正規化後才能去重
//   2. 格子判定：一步棋可能同時完成 0、1 或 2 個格子
//   3. 終局判定：所有格子填滿即結束
//
// 設計方案：
//   ✅ 純函數 - 無 I/O、無鎖、無 goroutine（由 Session 層負責並發控制）
//   ✅ 正規化方向 - 端點排序後儲存，查重只需精確比對
//   ✅ O(size²) 全盤掃描 - size ≤ 6，每步最多掃 25 格，無需增量優化

// Color 玩家顏色
//
// 紅色永遠是開房者，藍色是加入者。一局恰好兩人，顏色不重新分配。
type Color string

const (
	ColorRed  Color = "red"
	ColorBlue Color = "blue"
)

// Opponent 對手顏色
func (c Color) Opponent() Color {
	if c == ColorRed {
		return ColorBlue
	}
	return ColorRed
}

// 棋盤尺寸限制（每邊的點數）
const (
	MinSize = 3
	MaxSize = 6
)

var (
	ErrInvalidLine   = errors.New("線段幾何不合法")
	ErrDuplicateLine = errors.New("線段已存在")
)

// Line 兩個相鄰點之間的線段
//
// 約定：儲存時必須是正規化方向（Canonical），即 (X1,Y1) 按座標序
// 小於 (X2,Y2)。查重因此只需比對四個座標，無需考慮反向。
type Line struct {
	X1, Y1 int
	X2, Y2 int
	Color  Color
}

// Canonical 回傳正規化方向的線段（較小端點在前）
func (l Line) Canonical() Line {
	if l.X2 < l.X1 || (l.X2 == l.X1 && l.Y2 < l.Y1) {
		l.X1, l.Y1, l.X2, l.Y2 = l.X2, l.Y2, l.X1, l.Y1
	}
	return l
}

// ValidFor 檢查線段對指定棋盤是否幾何合法
//
// 合法條件：
//   - 兩端點都在 [0, size-1] 範圍內
//   - 單位長度：恰好一個軸差 1，另一個軸差 0（不允許斜線或跨點長線）
func (l Line) ValidFor(size int) bool {
	inRange := func(v int) bool { return v >= 0 && v < size }
	if !inRange(l.X1) || !inRange(l.Y1) || !inRange(l.X2) || !inRange(l.Y2) {
		return false
	}
	dx := l.X2 - l.X1
	dy := l.Y2 - l.Y1
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return (dx == 1 && dy == 0) || (dx == 0 && dy == 1)
}

// Box 以左上角點標識的單位格子
//
// 格子一旦完成即不可變：不會被取消、也不會改變歸屬。
type Box struct {
	X, Y  int
	Color Color
}

// boxLineOffsets 格子四條邊相對左上角的偏移
//
// 順序：上、右、下、左。
var boxLineOffsets = [4][4]int{
	{0, 0, 1, 0},
	{1, 0, 1, 1},
	{0, 1, 1, 1},
	{0, 0, 0, 1},
}

// MoveResult 一步棋的結算結果
type MoveResult struct {
	Line       Line  // 已正規化並標上顏色的線段
	AddedBoxes []Box // 這步棋新完成的格子（可能為空、1 個或 2 個）
	ExtraTurn  bool  // 完成 ≥1 格則同色再走一步
	Terminal   bool  // 所有格子已填滿
}

// Board 棋盤狀態：已落的線段與已完成的格子
//
// 不變量：
//   - len(Lines) ≤ 2·size·(size-1)（線段總數上限）
//   - len(Boxes) ≤ (size-1)²（格子總數上限）
//   - Lines 中無重複線段（正規化後比對）
type Board struct {
	Size  int
	Lines []Line
	Boxes []Box
}

// NewBoard 創建空棋盤（調用方負責先驗證尺寸）
func NewBoard(size int) *Board {
	return &Board{Size: size}
}

// MaxLines 指定尺寸的線段總數
func MaxLines(size int) int {
	return 2 * size * (size - 1)
}

// MaxBoxes 指定尺寸的格子總數
func MaxBoxes(size int) int {
	return (size - 1) * (size - 1)
}

// LineExists 檢查線段是否已存在（輸入會先正規化）
func (b *Board) LineExists(l Line) bool {
	return b.lineAt(l.Canonical()) != nil
}

func (b *Board) lineAt(l Line) *Line {
	for i := range b.Lines {
		s := &b.Lines[i]
		if s.X1 == l.X1 && s.Y1 == l.Y1 && s.X2 == l.X2 && s.Y2 == l.Y2 {
			return s
		}
	}
	return nil
}

func (b *Board) boxAt(x, y int) bool {
	for i := range b.Boxes {
		if b.Boxes[i].X == x && b.Boxes[i].Y == y {
			return true
		}
	}
	return false
}

// ApplyMove 落一條線並結算
//
// 演算法：
//  1. 幾何驗證 + 查重（失敗回傳錯誤，棋盤不變）
//  2. 追加線段（帶顏色）
//  3. 掃描所有未完成格子，四邊俱全者標記為 color 所有
//  4. 有新格子 → 同色額外一手；無未完成格子 → 終局
//
// 每步 O(size²) 掃描；size ≤ 6 時最多 25 格，無需增量計數優化。
func (b *Board) ApplyMove(l Line, color Color) (MoveResult, error) {
	l = l.Canonical()
	if !l.ValidFor(b.Size) {
		return MoveResult{}, ErrInvalidLine
	}
	if b.lineAt(l) != nil {
		return MoveResult{}, ErrDuplicateLine
	}

	l.Color = color
	b.Lines = append(b.Lines, l)

	result := MoveResult{Line: l}
	unfilled := 0

	for y := 0; y < b.Size-1; y++ {
		for x := 0; x < b.Size-1; x++ {
			if b.boxAt(x, y) {
				continue
			}
			unfilled++

			complete := true
			for _, off := range boxLineOffsets {
				edge := Line{X1: x + off[0], Y1: y + off[1], X2: x + off[2], Y2: y + off[3]}
				if b.lineAt(edge) == nil {
					complete = false
					break
				}
			}
			if complete {
				unfilled--
				box := Box{X: x, Y: y, Color: color}
				b.Boxes = append(b.Boxes, box)
				result.AddedBoxes = append(result.AddedBoxes, box)
			}
		}
	}

	result.ExtraTurn = len(result.AddedBoxes) > 0
	result.Terminal = unfilled == 0
	return result, nil
}

// Winner 計算勝方
//
// 嚴格多數者獲勝；平手回傳 false（平手不寫入排行榜）。
func (b *Board) Winner() (Color, bool) {
	var red, blue int
	for _, box := range b.Boxes {
		if box.Color == ColorRed {
			red++
		} else {
			blue++
		}
	}
	switch {
	case red > blue:
		return ColorRed, true
	case blue > red:
		return ColorBlue, true
	default:
		return "", false
	}
}
