package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/05-dots-and-boxes/internal/leaderboard"
)

// 系統設計問題：
//   如何在一條持久連接上承載雙向事件流，並把協議事件安全地
//   翻譯成對局操作？
//
// 核心挑戰：
//   1. 協議翻譯：Gateway 只做事件 ↔ 對局調用的映射，絕不直接改棋盤
//   2. 畸形負載：錯誤的類型 / 形狀必須靜默丟棄（不崩潰、不回應）
//   3. 心跳機制：檢測死連接（網絡異常、瀏覽器崩潰）
//   4. 勝者流程：終局後的姓名詢問是帶超時的異步往返，不阻塞拆除
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（gorilla/websocket）
//   ✅ 每連接一讀一寫兩個 goroutine + 緩衝發送通道
//   ✅ Ping/Pong 心跳 - 54s/60s
//   ✅ Seq 配對 - 模擬 socket.io 的 ack callback 語義

// 勝者姓名詢問的等待上限；超時即放棄排行榜更新
const winnerNameTimeout = 30 * time.Second

// Gateway 連接網關
//
// 職責邊界：入站事件經驗證後轉交 Registry / Session，
// 出站事件經 Conn.Send 扇出。對局狀態的一切變更都發生在
// Session 的鎖內，Gateway 自身只持有連接表。
type Gateway struct {
	registry *Registry
	store    leaderboard.Store
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn // connID -> Conn
}

// Conn 一條客戶端連接
//
// send 通道由 readPump 退出時關閉（經 close），writePump 隨之結束。
// pending 保存服務器發起、等待客戶端 ack 的請求（目前只有
// promptWinnerName 一種）。
type Conn struct {
	id      string
	ws      *websocket.Conn
	gateway *Gateway

	send   chan []byte
	done   chan struct{}
	sendMu sync.Mutex
	closed bool // sendMu 保護；入隊與關閉互斥，杜絕向已關閉通道發送

	pendingMu sync.Mutex
	pending   map[uint64]chan json.RawMessage
	nextSeq   uint64 // pendingMu 保護
}

// NewGateway 創建連接網關
func NewGateway(registry *Registry, store leaderboard.Store, logger *slog.Logger, metrics *Metrics) *Gateway {
	return &Gateway{
		registry: registry,
		store:    store,
		logger:   logger,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[string]*Conn),
	}
}

// ServeWS 處理 WebSocket 連接
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	conn := &Conn{
		id:      uuid.New().String(),
		ws:      ws,
		gateway: g,
		send:    make(chan []byte, 256),
		done:    make(chan struct{}),
		pending: make(map[uint64]chan json.RawMessage),
	}

	g.mu.Lock()
	g.conns[conn.id] = conn
	g.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	g.logger.Info("連接建立", "conn_id", conn.id)
}

// Stop 關閉所有連接
func (g *Gateway) Stop() {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.conns = make(map[string]*Conn)
	g.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	g.logger.Info("連接網關已停止")
}

// conn 按 ID 找回連接；已斷開時回 nil
func (g *Gateway) conn(id string) *Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conns[id]
}

// handleDisconnect 連接斷開：拆除所屬對局並清理連接表
func (g *Gateway) handleDisconnect(c *Conn) {
	g.registry.Disconnect(c)

	g.mu.Lock()
	if g.conns[c.id] == c {
		delete(g.conns, c.id)
	}
	g.mu.Unlock()

	c.close()
	g.logger.Info("連接斷開", "conn_id", c.id)
}

// finishGame 終局後的勝者流程（獨立 goroutine）
//
// 對局在進入此流程之前已從註冊表移除——排行榜往返的任何
// 失敗（超時、斷線、存儲故障）都只是跳過更新，絕不影響拆除。
func (g *Gateway) finishGame(winnerID string) {
	conn := g.conn(winnerID)
	if conn == nil {
		return
	}

	raw, err := conn.request(EventPromptWinnerName, nil, winnerNameTimeout)
	if err != nil {
		g.logger.Debug("勝者未回應姓名詢問", "conn_id", winnerID, "error", err)
		return
	}

	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return
	}
	name = leaderboard.Normalize(name)
	if name == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.store.RecordWin(ctx, name); err != nil {
		g.metrics.LeaderboardErrors.Inc()
		g.logger.Warn("排行榜寫入失敗", "name", name, "error", err)
		return
	}

	entries, err := g.store.TopN(ctx, 10)
	if err != nil {
		g.metrics.LeaderboardErrors.Inc()
		g.logger.Warn("排行榜查詢失敗", "error", err)
		return
	}

	conn.Send(EventDisplayLeaderboard, entries)
}

// dispatch 處理一條入站消息
//
// 畸形負載的處理原則：協議形狀不對就整條丟棄——不崩潰、不回應。
// 只有攜帶 Seq 的請求（newGame / joinGame）才經 ack 回傳錯誤字串。
func (g *Gateway) dispatch(c *Conn, message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		g.logger.Debug("丟棄無法解析的消息", "conn_id", c.id)
		return
	}

	switch env.Event {
	case EventNewGame:
		g.handleNewGame(c, env)
	case EventJoinGame:
		g.handleJoinGame(c, env)
	case EventAddLine:
		g.handleAddLine(c, env)
	case EventAck:
		c.resolve(env.Seq, env.Data)
	default:
		g.logger.Debug("收到未知事件", "event", env.Event, "conn_id", c.id)
	}
}

// handleNewGame 開新對局，ack (error|null, code)
func (g *Gateway) handleNewGame(c *Conn, env Envelope) {
	if env.Seq == 0 {
		return
	}

	var size float64
	if err := json.Unmarshal(env.Data, &size); err != nil {
		return
	}

	session, err := g.registry.CreateSession(c, int(math.Floor(size)))
	if err != nil {
		c.ack(env.Seq, err.Error(), "")
		return
	}
	c.ack(env.Seq, "", session.Code)
}

// handleJoinGame 加入對局，ack (error|null)
func (g *Gateway) handleJoinGame(c *Conn, env Envelope) {
	if env.Seq == 0 {
		return
	}

	var code string
	if err := json.Unmarshal(env.Data, &code); err != nil {
		return
	}

	if _, err := g.registry.JoinSession(c, code); err != nil {
		c.ack(env.Seq, err.Error(), "")
		return
	}
	c.ack(env.Seq, "", "")
}

// handleAddLine 提交棋步（fire-and-forget，拒絕即沉默）
func (g *Gateway) handleAddLine(c *Conn, env Envelope) {
	line, err := decodeLine(env.Data)
	if err != nil {
		return
	}

	outcome := g.registry.SubmitMove(c, line)
	if outcome.Terminal && outcome.WinnerID != "" {
		go g.finishGame(outcome.WinnerID)
	}
}

// ID 連接的唯一識別（實現 Peer）
func (c *Conn) ID() string {
	return c.id
}

// Send 投遞一個事件（實現 Peer；非阻塞）
func (c *Conn) Send(event string, data any) {
	c.sendEnvelope(outEnvelope{Event: event, Data: data})
}

// ack 回應客戶端攜帶 Seq 的請求
//
// errStr 為空表示成功（ack 負載中 error 為 null）。
func (c *Conn) ack(seq uint64, errStr, code string) {
	payload := ackPayload{Code: code}
	if errStr != "" {
		payload.Error = &errStr
	}
	c.sendEnvelope(outEnvelope{Event: EventAck, Seq: seq, Data: payload})
}

// request 服務器發起的請求，等待客戶端同 Seq 的 ack
func (c *Conn) request(event string, data any, timeout time.Duration) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)

	c.pendingMu.Lock()
	c.nextSeq++
	seq := c.nextSeq
	c.pending[seq] = ch
	c.pendingMu.Unlock()

	c.sendEnvelope(outEnvelope{Event: event, Seq: seq, Data: data})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case raw := <-ch:
		return raw, nil
	case <-timer.C:
		c.dropPending(seq)
		return nil, context.DeadlineExceeded
	case <-c.done:
		c.dropPending(seq)
		return nil, websocket.ErrCloseSent
	}
}

// resolve 客戶端的 ack 到達，喚醒等待中的 request
func (c *Conn) resolve(seq uint64, data json.RawMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[seq]
	delete(c.pending, seq)
	c.pendingMu.Unlock()

	if ok {
		ch <- data
	}
}

func (c *Conn) dropPending(seq uint64) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

// outEnvelope 出站封套（Data 在序列化時才編碼）
type outEnvelope struct {
	Event string `json:"event"`
	Seq   uint64 `json:"seq,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func (c *Conn) sendEnvelope(env outEnvelope) {
	message, err := json.Marshal(env)
	if err != nil {
		c.gateway.logger.Error("序列化事件失敗", "error", err, "event", env.Event)
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- message:
	default:
		// 慢客戶端的緩衝滿了，丟棄事件（不拖住對局鎖）
		c.gateway.logger.Warn("連接緩衝區滿", "conn_id", c.id, "event", env.Event)
	}
}

// close 冪等關閉（sendMu 保證與入隊互斥）
func (c *Conn) close() {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
	c.sendMu.Unlock()

	c.ws.Close()
}

// readPump 讀取客戶端消息
//
// 心跳機制（讀取端）：60 秒內沒有任何消息（包括 Pong）即關閉連接；
// 收到 Pong 則重置超時。配合 writePump 的 54 秒 Ping（留 6 秒余量）。
func (c *Conn) readPump() {
	defer c.gateway.handleDisconnect(c)

	if err := c.ws.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.gateway.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.gateway.logger.Error("WebSocket 讀取錯誤", "error", err, "conn_id", c.id)
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.gateway.dispatch(c, message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 心跳機制（發送端）：54 秒 Ping，避開常見的 60 秒代理超時。
func (c *Conn) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.gateway.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 網關關閉了通道，優雅關閉連接
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				queued, ok := <-c.send
				if !ok {
					// 排空期間通道被關閉，走關閉流程
					_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				if err := c.ws.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.gateway.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
