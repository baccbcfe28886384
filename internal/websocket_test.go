package internal_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/05-dots-and-boxes/internal"
	"github.com/koopa0/system-design/05-dots-and-boxes/internal/leaderboard"
)

// testServer 一套完整的網關 + 註冊表 + 內存排行榜
type testServer struct {
	srv   *httptest.Server
	store *leaderboard.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	metrics := internal.NewMetrics(prometheus.NewRegistry())
	registry := internal.NewRegistry(logger, metrics)
	store := leaderboard.NewMemory()
	gateway := internal.NewGateway(registry, store, logger, metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.ServeWS)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		gateway.Stop()
	})

	return &testServer{srv: srv, store: store}
}

// client 測試用 WebSocket 客戶端
type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (ts *testServer) dial(t *testing.T) *client {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	return &client{t: t, ws: ws}
}

// send 發送一條封套消息
func (c *client) send(event string, seq uint64, data any) {
	c.t.Helper()

	msg := map[string]any{"event": event}
	if seq != 0 {
		msg["seq"] = seq
	}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(c.t, c.ws.WriteJSON(msg))
}

// sendRaw 發送原始文本（測畸形負載）
func (c *client) sendRaw(text string) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, []byte(text)))
}

// expect 讀取下一條消息並斷言事件名稱（消息順序是協議保證的一部分）
func (c *client) expect(event string) internal.Envelope {
	c.t.Helper()

	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env internal.Envelope
	require.NoError(c.t, c.ws.ReadJSON(&env), "等待事件 %s", event)
	require.Equal(c.t, event, env.Event)
	return env
}

// expectSilence 斷言短窗口內沒有任何後續消息
func (c *client) expectSilence(d time.Duration) {
	c.t.Helper()

	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(d)))
	var env internal.Envelope
	err := c.ws.ReadJSON(&env)
	require.Error(c.t, err, "不應再收到消息，卻收到 %s", env.Event)
	netErr, ok := err.(interface{ Timeout() bool })
	require.True(c.t, ok && netErr.Timeout(), "讀取應超時而非出錯: %v", err)
}

// expectAck 讀取 ack 並回傳 (error, code)
func (c *client) expectAck(seq uint64) (string, string) {
	c.t.Helper()

	env := c.expect(internal.EventAck)
	require.Equal(c.t, seq, env.Seq)

	var payload struct {
		Error *string `json:"error"`
		Code  string  `json:"code"`
	}
	require.NoError(c.t, json.Unmarshal(env.Data, &payload))
	if payload.Error == nil {
		return "", payload.Code
	}
	return *payload.Error, payload.Code
}

// newGame 開房並回傳房號
func (c *client) newGame(size int) string {
	c.t.Helper()

	c.send(internal.EventNewGame, 1, size)
	errStr, code := c.expectAck(1)
	require.Empty(c.t, errStr)
	require.NotEmpty(c.t, code)
	return code
}

// TestGateway_FullGame 端到端：開房、配對、下滿棋盤、勝者進排行榜
func TestGateway_FullGame(t *testing.T) {
	ts := newTestServer(t)
	red := ts.dial(t)
	blue := ts.dial(t)

	// 開房 + 配對
	code := red.newGame(3)
	blue.send(internal.EventJoinGame, 1, code)

	// 配對廣播先入隊，ack 後到
	var started struct {
		Size  int    `json:"size"`
		Color string `json:"color"`
	}
	env := blue.expect(internal.EventGameStarted)
	require.NoError(t, json.Unmarshal(env.Data, &started))
	assert.Equal(t, 3, started.Size)
	assert.Equal(t, "blue", started.Color)

	errStr, _ := blue.expectAck(1)
	require.Empty(t, errStr)

	env = red.expect(internal.EventGameStarted)
	require.NoError(t, json.Unmarshal(env.Data, &started))
	assert.Equal(t, "red", started.Color)

	// 下滿棋盤
	for i, move := range fullGameMoves() {
		sender := blue
		if move.ByRed {
			sender = red
		}
		sender.send(internal.EventAddLine, 0, []int{move.Line.X1, move.Line.Y1, move.Line.X2, move.Line.Y2})

		last := i == len(fullGameMoves())-1
		for _, c := range []*client{red, blue} {
			env := c.expect(internal.EventAddLine)

			// 回顯的線段帶落子方顏色：[x1,y1,x2,y2,color]
			var echoed []any
			require.NoError(t, json.Unmarshal(env.Data, &echoed))
			require.Len(t, echoed, 5)

			if move.Boxes > 0 {
				env = c.expect(internal.EventAddBoxes)
				var boxes [][]any
				require.NoError(t, json.Unmarshal(env.Data, &boxes))
				assert.Len(t, boxes, move.Boxes)
			} else if !last {
				c.expect(internal.EventUpdateTurn)
			}
			if last {
				c.expect(internal.EventGameOver)
			}
		}
	}

	// 勝者（藍方）收到姓名詢問；回應後收到排行榜
	env = blue.expect(internal.EventPromptWinnerName)
	require.NotZero(t, env.Seq)
	blue.send(internal.EventAck, env.Seq, "  Alice  ")

	env = blue.expect(internal.EventDisplayLeaderboard)
	var entries []leaderboard.Entry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, leaderboard.Entry{Name: "alice", Wins: 1}, entries[0], "姓名應已正規化")

	// 存儲後端確實落了一筆
	stored, err := ts.store.TopN(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, entries, stored)
}

// TestGateway_DrawGame 端到端平局：gameOver 後不詢問姓名、排行榜不落筆
func TestGateway_DrawGame(t *testing.T) {
	ts := newTestServer(t)
	red := ts.dial(t)
	blue := ts.dial(t)

	code := red.newGame(3)
	blue.send(internal.EventJoinGame, 1, code)
	blue.expect(internal.EventGameStarted)
	errStr, _ := blue.expectAck(1)
	require.Empty(t, errStr)
	red.expect(internal.EventGameStarted)

	// 以 2:2 收官
	for i, move := range drawGameMoves() {
		sender := blue
		if move.ByRed {
			sender = red
		}
		sender.send(internal.EventAddLine, 0, []int{move.Line.X1, move.Line.Y1, move.Line.X2, move.Line.Y2})

		last := i == len(drawGameMoves())-1
		for _, c := range []*client{red, blue} {
			c.expect(internal.EventAddLine)
			if move.Boxes > 0 {
				env := c.expect(internal.EventAddBoxes)
				var boxes [][]any
				require.NoError(t, json.Unmarshal(env.Data, &boxes))
				assert.Len(t, boxes, move.Boxes)
			} else {
				c.expect(internal.EventUpdateTurn)
			}
			if last {
				c.expect(internal.EventGameOver)
			}
		}
	}

	// 平局：雙方都不會收到 promptWinnerName
	red.expectSilence(300 * time.Millisecond)
	blue.expectSilence(300 * time.Millisecond)

	// 排行榜保持空白
	stored, err := ts.store.TopN(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

// TestGateway_AckErrors 測試協議錯誤字串
func TestGateway_AckErrors(t *testing.T) {
	ts := newTestServer(t)
	c1 := ts.dial(t)
	c2 := ts.dial(t)
	c3 := ts.dial(t)

	// invalid size
	c1.send(internal.EventNewGame, 1, 7)
	errStr, _ := c1.expectAck(1)
	assert.Equal(t, "invalid size", errStr)

	// already in a room
	code := c1.newGame(3)
	c1.send(internal.EventNewGame, 3, 3)
	errStr, _ = c1.expectAck(3)
	assert.Equal(t, "already in a room", errStr)

	// invalid code
	c2.send(internal.EventJoinGame, 1, "no-such-code")
	errStr, _ = c2.expectAck(1)
	assert.Equal(t, "invalid code", errStr)

	// room full
	c2.send(internal.EventJoinGame, 2, code)
	c2.expect(internal.EventGameStarted)
	errStr, _ = c2.expectAck(2)
	require.Empty(t, errStr)
	c1.expect(internal.EventGameStarted)

	c3.send(internal.EventJoinGame, 1, code)
	errStr, _ = c3.expectAck(1)
	assert.Equal(t, "room full", errStr)
}

// TestGateway_MalformedPayloads 測試畸形負載被靜默丟棄且不影響連接
func TestGateway_MalformedPayloads(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t)

	c.sendRaw("not json at all")
	c.sendRaw(`{"event": 42}`)
	c.send(internal.EventNewGame, 0, 3)          // 無 seq（無 ack 通道）
	c.send(internal.EventNewGame, 0, "three")    // 負載類型錯誤
	c.send(internal.EventAddLine, 0, []int{0, 0, 1}) // 形狀錯誤
	c.send(internal.EventAddLine, 0, "nope")
	c.send("unknownEvent", 0, nil)

	// 連接仍然健在，正常請求照常工作
	code := c.newGame(3)
	assert.Len(t, code, 4)
}

// TestGateway_Cancellation 測試斷線取消
func TestGateway_Cancellation(t *testing.T) {
	ts := newTestServer(t)
	red := ts.dial(t)
	blue := ts.dial(t)

	code := red.newGame(3)
	blue.send(internal.EventJoinGame, 1, code)
	blue.expect(internal.EventGameStarted)
	errStr, _ := blue.expectAck(1)
	require.Empty(t, errStr)
	red.expect(internal.EventGameStarted)

	// 紅方直接斷線：藍方恰好收到一條 gameCancelled
	red.ws.Close()
	blue.expect(internal.EventGameCancelled)

	// 舊房號不再可達
	late := ts.dial(t)
	late.send(internal.EventJoinGame, 1, code)
	errStr, _ = late.expectAck(1)
	assert.Equal(t, "invalid code", errStr)
}
