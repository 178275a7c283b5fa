package unread

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/catchup-hq/catchup/internal/browser"
	"github.com/catchup-hq/catchup/internal/slack"
)

const (
	// A session whose cookies are valid lands on the web client under this
	// prefix; stale cookies get redirected to a sign-in page instead. Landing
	// on it is the whole session check.
	landingPrefix = "https://app.slack.com/client/"

	// How many messages to pull per unread conversation.
	historyWindow = "28"
)

// unreadsURL is where a cycle navigates: the workspace's own unreads view,
// which redirects into the app.slack.com client when the session holds.
func unreadsURL(slug string) string {
	return fmt.Sprintf("https://%s.slack.com/unreads", slug)
}

type LoaderConfig struct {
	PollInterval   time.Duration
	BootWaitIters  int
	FetchWaitIters int
}

// Loader drives load cycles against a live browser page: replay cookies,
// navigate, wait for the web client's own boot traffic, synthesize the
// follow-up fetches, then aggregate and enrich. The loader lives as long as
// the browser session, so boot data and resolved users carry over between
// cycles; per-cycle state is reset at the top of each Run. Progress is
// pushed through the publish callback as full-replacement snapshots.
type Loader struct {
	slug string
	page browser.Page
	data *slack.PageData
	cfg  LoaderConfig

	summarizer *Summarizer
	publish    func(Snapshot)

	observeErr chan error
	// User ids already requested this session; a user that never resolves is
	// not requested again on the next cycle.
	fetchedUsers map[string]bool
}

func NewLoader(slug string, page browser.Page, data *slack.PageData, cfg LoaderConfig) *Loader {
	return &Loader{
		slug:         slug,
		page:         page,
		data:         data,
		cfg:          cfg,
		observeErr:   make(chan error, 1),
		fetchedUsers: map[string]bool{},
	}
}

// Run performs one full load cycle and returns the final snapshot. An
// invalid session is not an error: the snapshot says so and the caller
// decides what to do with the workspace. A nil summarizer marks every stream
// as unconfigured instead of summarizing. Cycles on one loader never
// overlap; the caller serializes.
func (l *Loader) Run(ctx context.Context, cookies []browser.Cookie, summarizer *Summarizer, publish func(Snapshot)) (Snapshot, error) {
	if publish == nil {
		publish = func(Snapshot) {}
	}
	l.summarizer = summarizer
	l.publish = publish
	l.data.ResetCycle()
	// Drop any unread observation error left over from the previous cycle.
	select {
	case <-l.observeErr:
	default:
	}

	l.page.OnRequestFinished(func(req browser.Request, resp browser.Response) {
		if err := l.data.Observe(req, resp); err != nil {
			select {
			case l.observeErr <- err:
			default:
			}
		}
	})

	l.publish(emptySnapshot(true))

	if err := l.page.SetCookies(ctx, cookies); err != nil {
		return l.fail(fmt.Errorf("replay session cookies: %w", err))
	}

	finalURL, err := l.page.Navigate(ctx, unreadsURL(l.slug))
	if err != nil {
		return l.fail(err)
	}
	if !strings.HasPrefix(finalURL, landingPrefix) {
		log.Printf("[%s] session invalid, landed on %s", l.slug, finalURL)
		invalid := false
		snap := Snapshot{Loading: false, ValidSession: &invalid, Streams: []slack.UnreadStream{}}
		l.publish(snap)
		return snap, nil
	}

	valid := true
	l.publish(Snapshot{Loading: true, ValidSession: &valid, Streams: []slack.UnreadStream{}})

	// The web client issues client.boot and client.counts on its own; we
	// just wait for them to pass through the recorder.
	if !l.waitFor(ctx, l.cfg.BootWaitIters, func() bool {
		return l.data.Boot() != nil && l.data.Counts() != nil
	}) {
		if err := l.pendingObserveErr(); err != nil {
			return l.fail(err)
		}
		return l.fail(fmt.Errorf("timed out waiting for client boot traffic"))
	}

	boot := l.data.Boot()
	counts := l.data.Counts()
	targets := slack.UnreadConversationIDs(boot, counts)

	for _, id := range targets {
		params := map[string]string{
			"channel":         id,
			"limit":           historyWindow,
			"no_user_profile": "true",
		}
		// Fetch only what is past the last-read watermark.
		if oldest := counts.LastRead(id); oldest != "" {
			params["oldest"] = oldest
		}
		script, err := l.data.APIFetch("conversations.history", params)
		if err != nil {
			return l.fail(err)
		}
		if err := l.page.Evaluate(ctx, script); err != nil {
			return l.fail(fmt.Errorf("fetch history for %s: %w", id, err))
		}
	}

	wantThreads := len(counts.Threads.UnreadCountByChannel) > 0
	if wantThreads {
		script, err := l.data.APIFetch("subscriptions.thread.getView", map[string]string{
			"limit":      "8",
			"current_ts": fmt.Sprintf("%d", time.Now().Unix()),
		})
		if err != nil {
			return l.fail(err)
		}
		if err := l.page.Evaluate(ctx, script); err != nil {
			return l.fail(fmt.Errorf("fetch thread view: %w", err))
		}
	}

	complete := l.waitFor(ctx, l.cfg.FetchWaitIters, func() bool {
		if l.data.HistoryCount() < len(targets) {
			return false
		}
		return !wantThreads || l.data.Threads() != nil
	})
	if err := l.pendingObserveErr(); err != nil {
		return l.fail(err)
	}
	if l.data.HistoryCount() < len(targets) {
		return l.fail(fmt.Errorf("timed out waiting for conversation histories (%d/%d)",
			l.data.HistoryCount(), len(targets)))
	}
	if !complete {
		// Histories arrived but the thread view did not; aggregate without it.
		log.Printf("[%s] thread view missing, aggregating without threads", l.slug)
	}

	l.resolveUsers(ctx, boot, counts)

	users := l.data.Users()
	histories := l.data.Histories()
	streams := slack.UnreadChannels(boot, counts, histories, users)
	streams = append(streams, slack.UnreadIMs(boot, counts, histories, users)...)
	streams = append(streams, slack.UnreadThreads(boot, l.data.Threads(), users)...)
	sort.SliceStable(streams, func(i, j int) bool {
		return streams[i].LatestTimestamp > streams[j].LatestTimestamp
	})
	if streams == nil {
		streams = []slack.UnreadStream{}
	}

	// Streams are visible before enrichment; summaries stream in afterwards,
	// one republish per completed stream. Each publish gets its own copy of
	// the slice headers so subscribers never observe an in-progress write.
	l.publish(Snapshot{Loading: len(streams) > 0, ValidSession: &valid, Self: &boot.Self, Streams: cloneStreams(streams)})

	l.summarizer.Enrich(ctx, streams, func() {
		l.publish(Snapshot{Loading: true, ValidSession: &valid, Self: &boot.Self, Streams: cloneStreams(streams)})
	})

	snap := Snapshot{Loading: false, ValidSession: &valid, Self: &boot.Self, Streams: streams}
	l.publish(snap)
	return snap, nil
}

func cloneStreams(streams []slack.UnreadStream) []slack.UnreadStream {
	cloned := make([]slack.UnreadStream, len(streams))
	copy(cloned, streams)
	return cloned
}

// resolveUsers requests profiles for every sender and DM peer the recorder
// has not seen yet. Unresolvable users are tolerated; their messages render
// with an unknown sender and threads they root are dropped.
func (l *Loader) resolveUsers(ctx context.Context, boot *slack.ClientBootResponse, counts *slack.ClientCountsResponse) {
	missing := l.missingUserIDs(boot, counts)
	if len(missing) == 0 {
		return
	}

	script, err := l.data.EdgeFetch("users/info", map[string]any{
		"check_interaction": true,
		"ids":               missing,
	})
	if err != nil {
		log.Printf("[%s] synthesize users/info: %v", l.slug, err)
		return
	}
	if err := l.page.Evaluate(ctx, script); err != nil {
		log.Printf("[%s] fetch users/info: %v", l.slug, err)
		return
	}
	for _, id := range missing {
		l.fetchedUsers[id] = true
	}

	l.waitFor(ctx, l.cfg.FetchWaitIters, func() bool {
		users := l.data.Users()
		for _, id := range missing {
			if _, ok := users[id]; !ok {
				return false
			}
		}
		return true
	})
}

func (l *Loader) missingUserIDs(boot *slack.ClientBootResponse, counts *slack.ClientCountsResponse) []string {
	users := l.data.Users()
	seen := map[string]bool{}
	var missing []string
	add := func(id string) {
		if id == "" || id == slack.SlackbotID || seen[id] {
			return
		}
		seen[id] = true
		if _, ok := users[id]; ok {
			return
		}
		if l.fetchedUsers[id] {
			return
		}
		missing = append(missing, id)
	}

	for _, history := range l.data.Histories() {
		for _, msg := range history.Messages {
			add(msg.User)
		}
	}
	if threads := l.data.Threads(); threads != nil {
		for _, thread := range threads.Threads {
			add(thread.RootMsg.User)
			for _, reply := range thread.UnreadReplies {
				add(reply.User)
			}
		}
	}
	for _, c := range counts.IMs {
		if c.HasUnreads || c.MentionCount > 0 {
			add(boot.IMUser(c.ID))
		}
	}

	sort.Strings(missing)
	return missing
}

// waitFor polls cond until it holds, the iteration budget runs out, or the
// context is cancelled. The budget bounds the whole cycle: there is no
// unbounded wait anywhere in a load.
func (l *Loader) waitFor(ctx context.Context, iters int, cond func() bool) bool {
	interval := l.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	for i := 0; i < iters; i++ {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
	return cond()
}

func (l *Loader) pendingObserveErr() error {
	select {
	case err := <-l.observeErr:
		return err
	default:
		return nil
	}
}

// fail publishes a terminal snapshot before returning the error. The session
// is reported invalid: a cycle that could not complete its boot traffic has
// nothing trustworthy to show.
func (l *Loader) fail(err error) (Snapshot, error) {
	invalid := false
	snap := Snapshot{Loading: false, ValidSession: &invalid, Streams: []slack.UnreadStream{}}
	l.publish(snap)
	return snap, err
}
