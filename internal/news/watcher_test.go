package news

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/gamewatch/internal/metrics"
	"github.com/hitoshi/gamewatch/internal/model"
	"github.com/hitoshi/gamewatch/internal/security"
)

// --- モック ---

type mockGameRepo struct {
	findByAppIDFn         func(ctx context.Context, appID string) (*model.Game, error)
	listWithFollowersFn   func(ctx context.Context, limit int) ([]*model.Game, error)
	updateNewsTimestampFn func(ctx context.Context, appID string, ts int64) error
}

func (m *mockGameRepo) FindByAppID(ctx context.Context, appID string) (*model.Game, error) {
	if m.findByAppIDFn != nil {
		return m.findByAppIDFn(ctx, appID)
	}
	return nil, nil
}
func (m *mockGameRepo) Create(ctx context.Context, game *model.Game) error { return nil }
func (m *mockGameRepo) Update(ctx context.Context, game *model.Game) error { return nil }
func (m *mockGameRepo) AddFollower(ctx context.Context, appID, userID string) error {
	return nil
}
func (m *mockGameRepo) RemoveFollower(ctx context.Context, appID, userID string) error {
	return nil
}
func (m *mockGameRepo) ListWithFollowers(ctx context.Context, limit int) ([]*model.Game, error) {
	if m.listWithFollowersFn != nil {
		return m.listWithFollowersFn(ctx, limit)
	}
	return nil, nil
}
func (m *mockGameRepo) UpdateNewsTimestamp(ctx context.Context, appID string, ts int64) error {
	if m.updateNewsTimestampFn != nil {
		return m.updateNewsTimestampFn(ctx, appID, ts)
	}
	return nil
}

// mockSSRFGuard はテスト用にループバックを許可するガード。
type mockSSRFGuard struct{}

func (m *mockSSRFGuard) ValidateURL(rawURL string) error { return nil }
func (m *mockSSRFGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

// mockNotifier はフォロワー通知のモック。
type mockNotifier struct {
	notifyFn      func(ctx context.Context, appID string, ann model.Announcement) (int, error)
	announcements []model.Announcement
}

func (m *mockNotifier) NotifyFollowers(ctx context.Context, appID string, ann model.Announcement) (int, error) {
	m.announcements = append(m.announcements, ann)
	if m.notifyFn != nil {
		return m.notifyFn(ctx, appID, ann)
	}
	return 1, nil
}

func newTestWatcher(gameRepo *mockGameRepo, notifier *mockNotifier) *Watcher {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	collector := metrics.NewCollector(prometheus.NewRegistry())
	return NewWatcher(
		gameRepo,
		&mockSSRFGuard{},
		security.NewContentSanitizer(),
		notifier,
		collector,
		logger,
		DefaultWatcherConfig(),
	)
}

// TestWatcher_RunOnce_DetectsNewEntries はウォーターマークより新しいエントリが
// 検出・通知され、ウォーターマークが最大値まで進むことを検証する。
func TestWatcher_RunOnce_DetectsNewEntries(t *testing.T) {
	oldEntry := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	newEntry1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	newEntry2 := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	feed := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Game News</title>
<item><title>Update 2</title><description>Latest patch</description><pubDate>%s</pubDate></item>
<item><title>Update 1</title><description>Earlier patch</description><pubDate>%s</pubDate></item>
<item><title>Old Update</title><description>Already seen</description><pubDate>%s</pubDate></item>
</channel></rss>`,
		newEntry2.Format(time.RFC1123Z), newEntry1.Format(time.RFC1123Z), oldEntry.Format(time.RFC1123Z))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feeds/news/app/440/" {
			t.Errorf("フィードパスが不正: %s", r.URL.Path)
		}
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	game := &model.Game{
		AppID:             "440",
		Name:              "Team Fortress 2",
		LastNewsTimestamp: oldEntry.Unix(),
		Followers:         []string{"u-1"},
	}

	var updatedTS int64
	gameRepo := &mockGameRepo{
		listWithFollowersFn: func(ctx context.Context, limit int) ([]*model.Game, error) {
			return []*model.Game{game}, nil
		},
		updateNewsTimestampFn: func(ctx context.Context, appID string, ts int64) error {
			updatedTS = ts
			return nil
		},
	}
	notifier := &mockNotifier{}

	w := newTestWatcher(gameRepo, notifier)
	w.baseURL = server.URL

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	if len(notifier.announcements) != 2 {
		t.Fatalf("通知数 = %d, want 2", len(notifier.announcements))
	}
	// 古い順に通知される
	if !strings.Contains(notifier.announcements[0].Title, "Update 1") {
		t.Errorf("1件目の通知 = %q, want Update 1", notifier.announcements[0].Title)
	}
	if !strings.Contains(notifier.announcements[1].Title, "Update 2") {
		t.Errorf("2件目の通知 = %q, want Update 2", notifier.announcements[1].Title)
	}
	// タイトルはゲーム名を含む
	if !strings.HasPrefix(notifier.announcements[0].Title, "Team Fortress 2: ") {
		t.Errorf("通知タイトル = %q, want ゲーム名プレフィックス", notifier.announcements[0].Title)
	}
	if updatedTS != newEntry2.Unix() {
		t.Errorf("ウォーターマーク = %d, want %d", updatedTS, newEntry2.Unix())
	}
}

// TestWatcher_RunOnce_NotifyFailure_AdvancesWatermark は通知配信に失敗した
// エントリも既読として扱われ、ウォーターマークが進むことを検証する。
// 失敗したエントリが次サイクルで再送されることはない。
func TestWatcher_RunOnce_NotifyFailure_AdvancesWatermark(t *testing.T) {
	entryTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	feed := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Game News</title>
<item><title>Update</title><description>Patch notes</description><pubDate>%s</pubDate></item>
</channel></rss>`, entryTime.Format(time.RFC1123Z))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	game := &model.Game{
		AppID:     "440",
		Name:      "Team Fortress 2",
		Followers: []string{"u-1"},
	}

	var updatedTS int64
	gameRepo := &mockGameRepo{
		listWithFollowersFn: func(ctx context.Context, limit int) ([]*model.Game, error) {
			return []*model.Game{game}, nil
		},
		updateNewsTimestampFn: func(ctx context.Context, appID string, ts int64) error {
			updatedTS = ts
			return nil
		},
	}
	notifier := &mockNotifier{
		notifyFn: func(ctx context.Context, appID string, ann model.Announcement) (int, error) {
			return 0, errors.New("push backend unavailable")
		},
	}

	w := newTestWatcher(gameRepo, notifier)
	w.baseURL = server.URL

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	if updatedTS != entryTime.Unix() {
		t.Errorf("ウォーターマーク = %d, want %d", updatedTS, entryTime.Unix())
	}
}

// TestWatcher_RunOnce_NoNewEntries は新着なしの場合に通知も
// ウォーターマーク更新も行わないことを検証する。
func TestWatcher_RunOnce_NoNewEntries(t *testing.T) {
	oldEntry := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	feed := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Game News</title>
<item><title>Old Update</title><description>Already seen</description><pubDate>%s</pubDate></item>
</channel></rss>`, oldEntry.Format(time.RFC1123Z))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	timestampUpdated := false
	gameRepo := &mockGameRepo{
		listWithFollowersFn: func(ctx context.Context, limit int) ([]*model.Game, error) {
			return []*model.Game{{
				AppID:             "440",
				Name:              "Team Fortress 2",
				LastNewsTimestamp: oldEntry.Unix(),
			}}, nil
		},
		updateNewsTimestampFn: func(ctx context.Context, appID string, ts int64) error {
			timestampUpdated = true
			return nil
		},
	}
	notifier := &mockNotifier{}

	w := newTestWatcher(gameRepo, notifier)
	w.baseURL = server.URL

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if len(notifier.announcements) != 0 {
		t.Errorf("新着なしなのに通知が送信された: %+v", notifier.announcements)
	}
	if timestampUpdated {
		t.Error("新着なしなのにウォーターマークが更新された")
	}
}

// TestWatcher_RunOnce_SanitizesBody は通知本文からHTMLタグが
// 除去されることを検証する。
func TestWatcher_RunOnce_SanitizesBody(t *testing.T) {
	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	feed := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Game News</title>
<item><title>Patch Notes</title><description>&lt;p&gt;&lt;strong&gt;Fixed&lt;/strong&gt; a crash&lt;/p&gt;&lt;script&gt;alert(1)&lt;/script&gt;</description><pubDate>%s</pubDate></item>
</channel></rss>`, entry.Format(time.RFC1123Z))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	gameRepo := &mockGameRepo{
		listWithFollowersFn: func(ctx context.Context, limit int) ([]*model.Game, error) {
			return []*model.Game{{AppID: "440", Name: "Team Fortress 2"}}, nil
		},
	}
	notifier := &mockNotifier{}

	w := newTestWatcher(gameRepo, notifier)
	w.baseURL = server.URL

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if len(notifier.announcements) != 1 {
		t.Fatalf("通知数 = %d, want 1", len(notifier.announcements))
	}

	body := notifier.announcements[0].Body
	if strings.Contains(body, "<") || strings.Contains(body, "script") {
		t.Errorf("通知本文にHTMLが残っている: %q", body)
	}
	if !strings.Contains(body, "Fixed") {
		t.Errorf("通知本文 = %q, want テキスト内容を含む", body)
	}
}

// TestWatcher_RunOnce_SkipsEntriesWithoutDate は公開日時を持たない
// エントリがスキップされることを検証する。
func TestWatcher_RunOnce_SkipsEntriesWithoutDate(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Game News</title>
<item><title>No Date</title><description>Undatable</description></item>
</channel></rss>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	gameRepo := &mockGameRepo{
		listWithFollowersFn: func(ctx context.Context, limit int) ([]*model.Game, error) {
			return []*model.Game{{AppID: "440", Name: "Team Fortress 2"}}, nil
		},
	}
	notifier := &mockNotifier{}

	w := newTestWatcher(gameRepo, notifier)
	w.baseURL = server.URL

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if len(notifier.announcements) != 0 {
		t.Errorf("日時なしエントリが通知された: %+v", notifier.announcements)
	}
}

// TestWatcher_RunOnce_FeedFailure_Continues は個別フィードの失敗が
// サイクル全体を中断しないことを検証する。
func TestWatcher_RunOnce_FeedFailure_Continues(t *testing.T) {
	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	feed := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Game News</title>
<item><title>Update</title><description>Patch</description><pubDate>%s</pubDate></item>
</channel></rss>`, entry.Format(time.RFC1123Z))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/app/440/") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	gameRepo := &mockGameRepo{
		listWithFollowersFn: func(ctx context.Context, limit int) ([]*model.Game, error) {
			return []*model.Game{
				{AppID: "440", Name: "Team Fortress 2"},
				{AppID: "570", Name: "Dota 2"},
			}, nil
		},
	}
	notifier := &mockNotifier{}

	w := newTestWatcher(gameRepo, notifier)
	w.baseURL = server.URL

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	// 440は失敗、570は成功して通知される
	if len(notifier.announcements) != 1 {
		t.Errorf("通知数 = %d, want 1", len(notifier.announcements))
	}
}

// TestWatcher_RunOnce_ListFailure は監視対象の列挙失敗がサイクルの
// エラーとして報告されることを検証する。
func TestWatcher_RunOnce_ListFailure(t *testing.T) {
	gameRepo := &mockGameRepo{
		listWithFollowersFn: func(ctx context.Context, limit int) ([]*model.Game, error) {
			return nil, errors.New("connection refused")
		},
	}

	w := newTestWatcher(gameRepo, &mockNotifier{})

	if err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("列挙失敗なのにRunOnceがエラーを返さなかった")
	}
}

// TestWatcher_RunOnce_RespectsLimit は1サイクルの取得上限が
// リポジトリへ渡されることを検証する。
func TestWatcher_RunOnce_RespectsLimit(t *testing.T) {
	var gotLimit int
	gameRepo := &mockGameRepo{
		listWithFollowersFn: func(ctx context.Context, limit int) ([]*model.Game, error) {
			gotLimit = limit
			return nil, nil
		},
	}

	w := newTestWatcher(gameRepo, &mockNotifier{})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if gotLimit != DefaultWatcherConfig().MaxFeedsPerCycle {
		t.Errorf("取得上限 = %d, want %d", gotLimit, DefaultWatcherConfig().MaxFeedsPerCycle)
	}
}

// TestWatcher_BuildAnnouncement_TruncatesLongBody は長い要約が
// 切り詰められることを検証する。
func TestWatcher_BuildAnnouncement_TruncatesLongBody(t *testing.T) {
	w := newTestWatcher(&mockGameRepo{}, &mockNotifier{})

	longBody := strings.Repeat("あ", 300)
	game := &model.Game{AppID: "440", Name: "Team Fortress 2"}

	now := time.Now()
	item := &gofeed.Item{
		Title:           "Patch Notes",
		Description:     longBody,
		Link:            "https://store.steampowered.com/news/app/440",
		PublishedParsed: &now,
	}
	ann := w.buildAnnouncement(game, item)

	if runes := []rune(ann.Body); len(runes) > maxBodyPreviewLength+1 {
		t.Errorf("通知本文の長さ = %d runes, want <= %d", len(runes), maxBodyPreviewLength+1)
	}
	if !strings.HasSuffix(ann.Body, "…") {
		t.Errorf("切り詰められた本文が省略記号で終わっていない: %q", ann.Body)
	}
	if ann.Data["app_id"] != "440" || ann.Data["link"] == "" {
		t.Errorf("通知データが不正: %+v", ann.Data)
	}
}
