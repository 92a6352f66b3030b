package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// defaultFCMEndpoint はFCMレガシーHTTP APIのエンドポイント。
const defaultFCMEndpoint = "https://fcm.googleapis.com/fcm/send"

// FCMTransport はFCMレガシーHTTP APIによる通知トランスポート。
// サーバーキーが未設定の場合は配信を行わず常にfalseを返す（通知無効モード）。
type FCMTransport struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	serverKey  string
}

// NewFCMTransport はFCMTransportの新しいインスタンスを生成する。
// endpointが空の場合はデフォルトのFCMエンドポイントを使用する。
func NewFCMTransport(endpoint, serverKey string, httpClient *http.Client, logger *slog.Logger) *FCMTransport {
	if endpoint == "" {
		endpoint = defaultFCMEndpoint
	}
	return &FCMTransport{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		serverKey:  serverKey,
	}
}

// fcmMessage はFCMレガシーHTTP APIのリクエストボディ。
type fcmMessage struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Deliver は単一トークンへ通知を送信する。
// 失敗はfalseで報告し、エラーは返さない。
func (t *FCMTransport) Deliver(ctx context.Context, token, title, body string, data map[string]string) bool {
	if t.serverKey == "" {
		t.logger.Debug("FCMサーバーキーが未設定のため通知をスキップします")
		return false
	}

	payload, err := json.Marshal(fcmMessage{
		To:           token,
		Notification: fcmNotification{Title: title, Body: body},
		Data:         data,
	})
	if err != nil {
		t.logger.Error("通知ペイロードの生成に失敗しました",
			slog.String("error", err.Error()),
		)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("key=%s", t.serverKey))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Error("FCMへの送信に失敗しました",
			slog.String("error", err.Error()),
		)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("FCMがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return false
	}

	return true
}

// compile-time interface check
var _ Transport = (*FCMTransport)(nil)
