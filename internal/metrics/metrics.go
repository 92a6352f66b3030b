// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordSyncSuccess(userID string)
	RecordSyncFailure(userID string, reason string)
	RecordSyncSkipped(userID string)
	RecordNewGames(count int)
	RecordUpstreamStatus(statusCode int)
	RecordUpstreamLatency(duration time.Duration)
	RecordNotificationDelivered()
	RecordNotificationFailed()
	RecordNewsEntries(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess     prometheus.Counter
	syncFail        prometheus.Counter
	syncSkipped     prometheus.Counter
	newGames        prometheus.Counter
	upstreamStatus  *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	notifyDelivered prometheus.Counter
	notifyFailed    prometheus.Counter
	newsEntries     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamewatch_sync_success_total",
			Help: "ライブラリ同期成功の合計数",
		}),
		syncFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamewatch_sync_fail_total",
			Help: "ライブラリ同期失敗の合計数",
		}),
		syncSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamewatch_sync_skipped_total",
			Help: "クールダウンによりスキップされた同期の合計数",
		}),
		newGames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamewatch_new_games_total",
			Help: "検出された新規ゲームの合計数",
		}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamewatch_upstream_status_total",
			Help: "Steam APIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gamewatch_upstream_latency_seconds",
			Help:    "Steam API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		notifyDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamewatch_notifications_delivered_total",
			Help: "配信に成功した通知の合計数",
		}),
		notifyFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamewatch_notifications_failed_total",
			Help: "配信に失敗した通知の合計数",
		}),
		newsEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamewatch_news_entries_total",
			Help: "取り込まれたニュースエントリの合計数",
		}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.syncSkipped,
		c.newGames,
		c.upstreamStatus,
		c.upstreamLatency,
		c.notifyDelivered,
		c.notifyFailed,
		c.newsEntries,
	)

	return c
}

// RecordSyncSuccess は同期成功を記録する。
func (c *Collector) RecordSyncSuccess(userID string) {
	c.syncSuccess.Inc()
}

// RecordSyncFailure は同期失敗を記録する。
func (c *Collector) RecordSyncFailure(userID string, reason string) {
	c.syncFail.Inc()
}

// RecordSyncSkipped はクールダウンによるスキップを記録する。
func (c *Collector) RecordSyncSkipped(userID string) {
	c.syncSkipped.Inc()
}

// RecordNewGames は検出された新規ゲーム数を記録する。
func (c *Collector) RecordNewGames(count int) {
	c.newGames.Add(float64(count))
}

// RecordUpstreamStatus はSteam APIのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency はSteam API呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(duration time.Duration) {
	c.upstreamLatency.Observe(duration.Seconds())
}

// RecordNotificationDelivered は通知配信成功を記録する。
func (c *Collector) RecordNotificationDelivered() {
	c.notifyDelivered.Inc()
}

// RecordNotificationFailed は通知配信失敗を記録する。
func (c *Collector) RecordNotificationFailed() {
	c.notifyFailed.Inc()
}

// RecordNewsEntries は取り込まれたニュースエントリ数を記録する。
func (c *Collector) RecordNewsEntries(count int) {
	c.newsEntries.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
