package unread

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/catchup-hq/catchup/internal/browser"
	"github.com/catchup-hq/catchup/internal/slack"
)

type fakePage struct {
	mu      sync.Mutex
	handler browser.RequestFinishedHandler

	landURL    string
	onNavigate func(*fakePage)
	onEvaluate func(*fakePage, string)

	cookies   []browser.Cookie
	navigated []string
	scripts   []string
	closed    bool
}

func (f *fakePage) Navigate(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.navigated = append(f.navigated, url)
	f.mu.Unlock()
	if f.onNavigate != nil {
		f.onNavigate(f)
	}
	return f.landURL, nil
}

func (f *fakePage) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	f.cookies = cookies
	return nil
}

func (f *fakePage) Evaluate(ctx context.Context, script string) error {
	f.mu.Lock()
	f.scripts = append(f.scripts, script)
	f.mu.Unlock()
	if f.onEvaluate != nil {
		f.onEvaluate(f, script)
	}
	return nil
}

func (f *fakePage) OnRequestFinished(handler browser.RequestFinishedHandler) {
	f.handler = handler
}

func (f *fakePage) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakePage) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakePage) navigatedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigated...)
}

// deliver feeds one finished exchange through the registered handler, the
// way the real page surfaces intercepted traffic.
func (f *fakePage) deliver(url, reqBody, respBody string) {
	f.handler(
		browser.Request{
			URL:     url,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    []byte(reqBody),
		},
		browser.Response{URL: url, Status: 200, Body: []byte(respBody)},
	)
}

// snapshotLog collects published snapshots; enrichment publishes from worker
// goroutines, so appends are guarded.
type snapshotLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (s *snapshotLog) publish(snap Snapshot) {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
}

func (s *snapshotLog) all() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.snaps...)
}

const (
	bootJSON = `{
		"self": {"id": "U1", "team_id": "T1", "name": "ann", "real_name": "Ann Smith"},
		"prefs": {"muted_channels": ""},
		"channels": [{"id": "C1", "name": "general", "is_channel": true}],
		"ims": [{"id": "D1", "user": "U2"}]
	}`
	countsJSON = `{
		"threads": {"unread_count_by_channel": {}},
		"channels": [{"id": "C1", "has_unreads": true, "mention_count": 1, "last_read": "1700000000.000100"}],
		"mpims": [],
		"ims": []
	}`
	usersJSON   = `{"results": [{"id": "U1", "name": "ann", "real_name": "Ann Smith"}, {"id": "U2", "name": "ben", "real_name": "Ben Jones"}]}`
	historyJSON = `{"messages": [{"type": "message", "text": "ship it <@U2>", "user": "U2", "ts": "1700000000.000200"}]}`
)

var channelParam = regexp.MustCompile(`form\.append\("channel", "([A-Z0-9]+)"\)`)

func deliverBootTraffic(f *fakePage) {
	f.deliver("https://acme.slack.com/api/client.boot?_x_id=1", `{"token":"tok"}`, bootJSON)
	f.deliver("https://acme.slack.com/api/client.counts?_x_id=2", `{"token":"tok"}`, countsJSON)
	f.deliver("https://edgeapi.slack.com/cache/T1/users/list?fp=1", `{"token":"tok"}`, usersJSON)
}

func deliverHistories(f *fakePage, script string) {
	if m := channelParam.FindStringSubmatch(script); m != nil {
		f.deliver(
			"https://acme.slack.com/api/conversations.history?_x_id=3",
			`{"channel":"`+m[1]+`"}`,
			historyJSON,
		)
	}
}

func testLoaderConfig() LoaderConfig {
	return LoaderConfig{PollInterval: time.Millisecond, BootWaitIters: 5, FetchWaitIters: 5}
}

func TestLoaderRun_FullCycle(t *testing.T) {
	page := &fakePage{
		landURL:    "https://app.slack.com/client/T1",
		onNavigate: deliverBootTraffic,
		onEvaluate: deliverHistories,
	}

	published := &snapshotLog{}
	provider := &fakeProvider{completionText: "Person-1 wants to ship.", finishReason: "stop"}
	loader := NewLoader("acme", page, slack.NewPageData("acme", nil), testLoaderConfig())

	cookies := []browser.Cookie{{Name: "d", Value: "secret", Domain: ".slack.com"}}
	snap, err := loader.Run(context.Background(), cookies, NewSummarizer(provider, 64), published.publish)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if urls := page.navigatedURLs(); len(urls) != 1 || urls[0] != "https://acme.slack.com/unreads" {
		t.Errorf("navigated = %v, want the workspace unreads page", urls)
	}
	if len(page.cookies) != 1 || page.cookies[0].Name != "d" {
		t.Errorf("cookies not replayed: %+v", page.cookies)
	}
	if snap.Loading {
		t.Error("final snapshot still loading")
	}
	if snap.ValidSession == nil || !*snap.ValidSession {
		t.Errorf("ValidSession = %v, want true", snap.ValidSession)
	}
	if snap.Self == nil || snap.Self.ID != "U1" {
		t.Errorf("Self = %+v", snap.Self)
	}
	if len(snap.Streams) != 1 {
		t.Fatalf("Streams = %+v", snap.Streams)
	}

	stream := snap.Streams[0]
	if stream.Name != "#general" || stream.Badge != 1 {
		t.Errorf("stream = %+v", stream)
	}
	if stream.Summary == nil || *stream.Summary != "**Ben Jones** wants to ship." {
		t.Errorf("Summary = %v", stream.Summary)
	}
	if len(stream.PromptParts) != 3 || !strings.Contains(stream.PromptParts[1], "Person-1: ship it Person-1") {
		t.Errorf("PromptParts = %+v", stream.PromptParts)
	}
	if strings.Contains(stream.PromptParts[1], "Ben") || strings.Contains(stream.PromptParts[1], "U2") {
		t.Errorf("prompt leaked identity: %+v", stream.PromptParts)
	}

	snaps := published.all()
	if len(snaps) < 4 {
		t.Fatalf("published %d snapshots, want at least 4", len(snaps))
	}
	if !snaps[0].Loading {
		t.Error("first snapshot must be loading")
	}
	if snaps[1].ValidSession == nil || !*snaps[1].ValidSession || !snaps[1].Loading {
		t.Errorf("session-check snapshot = %+v", snaps[1])
	}
}

// The stream list becomes visible as soon as aggregation finishes; summaries
// arrive through later snapshots.
func TestLoaderRun_PublishesStreamsBeforeSummaries(t *testing.T) {
	page := &fakePage{
		landURL:    "https://app.slack.com/client/T1",
		onNavigate: deliverBootTraffic,
		onEvaluate: deliverHistories,
	}

	published := &snapshotLog{}
	var sawStreams bool
	provider := &fakeProvider{completionText: "Person-1 spoke.", finishReason: "stop"}
	provider.onComplete = func() {
		for _, snap := range published.all() {
			if len(snap.Streams) > 0 {
				sawStreams = true
			}
		}
	}

	loader := NewLoader("acme", page, slack.NewPageData("acme", nil), testLoaderConfig())
	if _, err := loader.Run(context.Background(), nil, NewSummarizer(provider, 64), published.publish); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !sawStreams {
		t.Error("stream list must be published before summarization starts")
	}

	snaps := published.all()
	var aggregated *Snapshot
	for i := range snaps {
		if len(snaps[i].Streams) > 0 && snaps[i].Streams[0].Summary == nil {
			aggregated = &snaps[i]
			break
		}
	}
	if aggregated == nil {
		t.Fatal("no pre-enrichment snapshot with streams was published")
	}
	if !aggregated.Loading {
		t.Error("snapshot with unsummarized streams must still be loading")
	}

	final := snaps[len(snaps)-1]
	if final.Loading || len(final.Streams) != 1 || final.Streams[0].Summary == nil {
		t.Errorf("final snapshot = %+v", final)
	}
}

func TestLoaderRun_InvalidSession(t *testing.T) {
	page := &fakePage{landURL: "https://acme.slack.com/ssb/signin"}

	published := &snapshotLog{}
	loader := NewLoader("acme", page, slack.NewPageData("acme", nil), testLoaderConfig())

	snap, err := loader.Run(context.Background(), nil, nil, published.publish)
	if err != nil {
		t.Fatalf("invalid session must not be an error: %v", err)
	}
	if urls := page.navigatedURLs(); len(urls) != 1 || urls[0] != "https://acme.slack.com/unreads" {
		t.Errorf("navigated = %v, want the workspace unreads page", urls)
	}
	if snap.ValidSession == nil || *snap.ValidSession {
		t.Errorf("ValidSession = %v, want false", snap.ValidSession)
	}
	if snap.Loading || len(snap.Streams) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(page.scripts) != 0 {
		t.Errorf("no scripts may run against an invalid session: %v", page.scripts)
	}
}

func TestLoaderRun_BootTimeoutReportsInvalidSession(t *testing.T) {
	// Session lands correctly but the client never issues boot traffic.
	page := &fakePage{landURL: "https://app.slack.com/client/T1"}

	published := &snapshotLog{}
	loader := NewLoader("acme", page, slack.NewPageData("acme", nil), testLoaderConfig())
	if _, err := loader.Run(context.Background(), nil, nil, published.publish); err == nil {
		t.Fatal("expected boot timeout error")
	}

	snaps := published.all()
	last := snaps[len(snaps)-1]
	if last.Loading {
		t.Error("terminal snapshot still loading")
	}
	if last.ValidSession == nil || *last.ValidSession {
		t.Errorf("terminal ValidSession = %v, want explicit false", last.ValidSession)
	}
}

func TestLoaderRun_ObserveContractViolation(t *testing.T) {
	page := &fakePage{
		landURL:    "https://app.slack.com/client/T1",
		onNavigate: deliverBootTraffic,
		onEvaluate: func(f *fakePage, script string) {
			if strings.Contains(script, "conversations.history") {
				// History response whose request lost its channel parameter.
				f.deliver("https://acme.slack.com/api/conversations.history", `{"limit":"28"}`, historyJSON)
			}
		},
	}

	loader := NewLoader("acme", page, slack.NewPageData("acme", nil), testLoaderConfig())
	_, err := loader.Run(context.Background(), nil, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "channel") {
		t.Fatalf("expected channel contract error, got %v", err)
	}
}

func TestLoaderRun_ProceedsWithoutThreadView(t *testing.T) {
	countsWithThreads := strings.Replace(countsJSON,
		`"unread_count_by_channel": {}`,
		`"unread_count_by_channel": {"C1": 2}`, 1)

	page := &fakePage{
		landURL: "https://app.slack.com/client/T1",
		onNavigate: func(f *fakePage) {
			f.deliver("https://acme.slack.com/api/client.boot?_x_id=1", `{"token":"tok"}`, bootJSON)
			f.deliver("https://acme.slack.com/api/client.counts?_x_id=2", `{"token":"tok"}`, countsWithThreads)
			f.deliver("https://edgeapi.slack.com/cache/T1/users/list?fp=1", `{"token":"tok"}`, usersJSON)
		},
		// Histories arrive, the thread view never does.
		onEvaluate: deliverHistories,
	}

	loader := NewLoader("acme", page, slack.NewPageData("acme", nil), testLoaderConfig())
	snap, err := loader.Run(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snap.Streams) != 1 {
		t.Fatalf("partial aggregation must still surface channel streams: %+v", snap.Streams)
	}
}

// A second cycle on the same loader starts from the session's warm state:
// boot and the user directory persist, counts and histories are re-fetched.
func TestLoaderRun_SecondCycleReusesSessionState(t *testing.T) {
	page := &fakePage{
		landURL:    "https://app.slack.com/client/T1",
		onNavigate: deliverBootTraffic,
		onEvaluate: deliverHistories,
	}

	data := slack.NewPageData("acme", nil)
	loader := NewLoader("acme", page, data, testLoaderConfig())
	if _, err := loader.Run(context.Background(), nil, nil, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Second cycle: the client re-issues counts only. Boot and the user
	// directory come from the established session.
	page.onNavigate = func(f *fakePage) {
		f.deliver("https://acme.slack.com/api/client.counts?_x_id=9", `{"token":"tok"}`, countsJSON)
	}
	snap, err := loader.Run(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(snap.Streams) != 1 {
		t.Fatalf("Streams = %+v", snap.Streams)
	}
	if got := snap.Streams[0].Messages[0].FromName; got != "Ben Jones" {
		t.Errorf("FromName = %q, want resolution from the persisted directory", got)
	}
}
