package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics Prometheus 指標
//
// 命名空間 dotsboxes；經 /metrics 端點暴露。
// 指標只做計數，不進入任何業務判斷。
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsCancelled prometheus.Counter
	Moves             prometheus.Counter
	Boxes             prometheus.Counter
	LeaderboardErrors prometheus.Counter
}

// NewMetrics 註冊指標
//
// Registry 由調用方提供：生產環境用 prometheus.DefaultRegisterer，
// 測試各自創建獨立的 prometheus.NewRegistry()，避免重複註冊 panic。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dotsboxes",
			Name:      "active_sessions",
			Help:      "在用對局數",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dotsboxes",
			Name:      "sessions_created_total",
			Help:      "累計創建的對局數",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dotsboxes",
			Name:      "sessions_completed_total",
			Help:      "累計下滿棋盤結束的對局數",
		}),
		SessionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dotsboxes",
			Name:      "sessions_cancelled_total",
			Help:      "累計因斷線取消的對局數",
		}),
		Moves: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dotsboxes",
			Name:      "moves_total",
			Help:      "累計接受的棋步數",
		}),
		Boxes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dotsboxes",
			Name:      "boxes_total",
			Help:      "累計完成的格子數",
		}),
		LeaderboardErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dotsboxes",
			Name:      "leaderboard_errors_total",
			Help:      "累計排行榜寫入 / 查詢失敗次數",
		}),
	}
}
