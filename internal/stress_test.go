package internal_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/05-dots-and-boxes/internal"
)

// TestStress_ConcurrentSessionCreation 測試併發開房
func TestStress_ConcurrentSessionCreation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	registry := newTestRegistry(t)

	const (
		numGoroutines        = 100
		sessionsPerGoroutine = 10
	)

	var (
		wg           sync.WaitGroup
		successCount int32
	)
	codes := sync.Map{}

	start := time.Now()

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()

			for j := 0; j < sessionsPerGoroutine; j++ {
				peer := newFakePeer(fmt.Sprintf("conn_%d_%d", goroutineID, j))
				size := 3 + (goroutineID+j)%4 // 3-6

				session, err := registry.CreateSession(peer, size)
				if err != nil {
					continue
				}

				if _, loaded := codes.LoadOrStore(session.Code, true); loaded {
					t.Errorf("房號 %s 重複", session.Code)
				}
				atomic.AddInt32(&successCount, 1)
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	t.Logf("併發開房壓力測試結果:")
	t.Logf("  成功: %d", successCount)
	t.Logf("  耗時: %v", duration)

	assert.Equal(t, int32(numGoroutines*sessionsPerGoroutine), successCount)
	assert.Equal(t, numGoroutines*sessionsPerGoroutine, registry.Count())
}

// TestStress_CodeUniqueness10000 測試一萬個活躍對局下房號仍不碰撞
//
// 4 位數字空間恰好一萬個；佔滿後生成器必須擴展到 5 位而非無限循環。
func TestStress_CodeUniqueness10000(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	registry := newTestRegistry(t)
	codes := make(map[string]bool, 10001)

	for i := 0; i < 10001; i++ {
		session, err := registry.CreateSession(newFakePeer(fmt.Sprintf("conn-%d", i)), 3)
		require.NoError(t, err)
		require.False(t, codes[session.Code], "房號 %s 重複", session.Code)
		codes[session.Code] = true
	}

	assert.Equal(t, 10001, registry.Count())

	// 空間佔滿後出現的 5 位房號
	longCodes := 0
	for code := range codes {
		if len(code) == 5 {
			longCodes++
		}
	}
	assert.Equal(t, 1, longCodes, "第 10001 局應拿到 5 位房號")
}

// TestStress_MovesRacingDisconnect 測試棋步與斷線的競爭
//
// 兩個 goroutine 狂發棋步、一個 goroutine 斷線：不允許 panic、
// 不允許狀態撕裂，留下的一方恰好收到一條 gameCancelled。
func TestStress_MovesRacingDisconnect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	for round := 0; round < 50; round++ {
		registry := newTestRegistry(t)
		red := newFakePeer("red-conn")
		blue := newFakePeer("blue-conn")

		session, err := registry.CreateSession(red, 3)
		require.NoError(t, err)
		_, err = registry.JoinSession(blue, session.Code)
		require.NoError(t, err)

		moves := fullGameMoves()

		var wg sync.WaitGroup
		wg.Add(3)

		go func() {
			defer wg.Done()
			for _, m := range moves {
				registry.SubmitMove(red, m.Line)
			}
		}()
		go func() {
			defer wg.Done()
			for _, m := range moves {
				registry.SubmitMove(blue, m.Line)
			}
		}()
		go func() {
			defer wg.Done()
			registry.Disconnect(red)
		}()

		wg.Wait()

		assert.Equal(t, 0, registry.Count())
		assert.LessOrEqual(t, blue.countEvent(internal.EventGameCancelled), 1)
		assert.Equal(t, 0, red.countEvent(internal.EventGameCancelled),
			"斷線方自己不應收到 gameCancelled")
	}
}
