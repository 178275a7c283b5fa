package slack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"mime/multipart"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/catchup-hq/catchup/internal/browser"
)

type Family string

const (
	FamilyAPI  Family = "api"
	FamilyEdge Family = "edge"
)

// Per family, only the most recent requests are retained for replay.
const requestHistoryCap = 10

type requestRecord struct {
	baseURL     string
	querystring string
	params      map[string]string
}

// PageData is the interception recorder for one workspace session. It
// observes every finished exchange on the Slack page, keeps the typed
// payloads the loader needs, and retains recent request parameters so new
// requests can be synthesized from them.
type PageData struct {
	slug    string
	capture *Capture

	mu           sync.Mutex
	boot         *ClientBootResponse
	counts       *ClientCountsResponse
	threads      *ThreadsViewResponse
	histories    map[string]*ConversationsHistoryResponse
	users        map[string]User
	apiRequests  []requestRecord
	edgeRequests []requestRecord
}

func NewPageData(slug string, capture *Capture) *PageData {
	return &PageData{
		slug:      slug,
		capture:   capture,
		histories: map[string]*ConversationsHistoryResponse{},
		users:     map[string]User{},
	}
}

// Dispatch is a registered-handler lookup rather than a switch so new
// logical names can be wired without touching Observe.
type payloadHandler func(pd *PageData, params map[string]string, body []byte) error

var apiHandlers = map[string]payloadHandler{
	"client.boot":                  applyBoot,
	"client.counts":                applyCounts,
	"conversations.history":        applyHistory,
	"subscriptions.thread.getView": applyThreads,
}

var edgeHandlers = map[string]payloadHandler{
	"users/list": applyUsers,
	"users/info": applyUsers,
}

var edgeCachePath = regexp.MustCompile(`/cache/\w+/`)

// Observe classifies a finished exchange and folds its payload into the
// recorder's state. URLs outside the two API families are ignored. A
// non-JSON response body drops the observation; the only hard error is a
// conversations.history response missing its channel correlation parameter,
// which means the upstream API shape changed.
func (pd *PageData) Observe(req browser.Request, resp browser.Response) error {
	url := resp.URL
	if url == "" {
		url = req.URL
	}

	var family Family
	var name string
	switch {
	case strings.Contains(url, "/api/"):
		// https://team.slack.com/api/client.counts?_x_id=noversion-1672
		name = strings.SplitN(strings.SplitN(url, "/api/", 2)[1], "?", 2)[0]
		family = FamilyAPI
	case strings.Contains(url, "edgeapi"):
		// https://edgeapi.slack.com/cache/T03DFV746MP/users/info?fp=1d
		parts := edgeCachePath.Split(url, 2)
		if len(parts) < 2 {
			return nil
		}
		name = strings.SplitN(parts[1], "?", 2)[0]
		family = FamilyEdge
	default:
		return nil
	}

	if !json.Valid(resp.Body) {
		log.Printf("[%s] could not decode response JSON for %s", pd.slug, name)
		return nil
	}

	params := parseRequestParams(req)

	if pd.capture != nil {
		pd.capture.Record(family, name, CaptureEntry{
			URL:      req.URL,
			Headers:  req.Headers,
			Params:   params,
			Response: json.RawMessage(resp.Body),
		})
	}

	log.Printf("[%s] [%s request] %s", pd.slug, family, name)

	pd.mu.Lock()
	defer pd.mu.Unlock()

	record := requestRecord{
		baseURL:     strings.SplitN(url, "?", 2)[0],
		querystring: querystring(url),
		params:      params,
	}
	switch family {
	case FamilyAPI:
		pd.apiRequests = appendBounded(pd.apiRequests, record)
		if handler := apiHandlers[name]; handler != nil {
			return handler(pd, params, resp.Body)
		}
	case FamilyEdge:
		pd.edgeRequests = appendBounded(pd.edgeRequests, record)
		if handler := edgeHandlers[name]; handler != nil {
			return handler(pd, params, resp.Body)
		}
	}
	return nil
}

func applyBoot(pd *PageData, params map[string]string, body []byte) error {
	var boot ClientBootResponse
	if err := json.Unmarshal(body, &boot); err != nil {
		log.Printf("[%s] could not decode client.boot: %v", pd.slug, err)
		return nil
	}
	pd.boot = &boot
	return nil
}

func applyCounts(pd *PageData, params map[string]string, body []byte) error {
	var counts ClientCountsResponse
	if err := json.Unmarshal(body, &counts); err != nil {
		log.Printf("[%s] could not decode client.counts: %v", pd.slug, err)
		return nil
	}
	pd.counts = &counts
	return nil
}

func applyHistory(pd *PageData, params map[string]string, body []byte) error {
	channel := params["channel"]
	if channel == "" {
		return fmt.Errorf("conversations.history response without channel parameter")
	}
	var history ConversationsHistoryResponse
	if err := json.Unmarshal(body, &history); err != nil {
		log.Printf("[%s] could not decode conversations.history: %v", pd.slug, err)
		return nil
	}
	pd.histories[channel] = &history
	return nil
}

func applyThreads(pd *PageData, params map[string]string, body []byte) error {
	var threads ThreadsViewResponse
	if err := json.Unmarshal(body, &threads); err != nil {
		log.Printf("[%s] could not decode subscriptions.thread.getView: %v", pd.slug, err)
		return nil
	}
	pd.threads = &threads
	return nil
}

func applyUsers(pd *PageData, params map[string]string, body []byte) error {
	var users EdgeUsersResponse
	if err := json.Unmarshal(body, &users); err != nil {
		log.Printf("[%s] could not decode users response: %v", pd.slug, err)
		return nil
	}
	for _, user := range users.Results {
		pd.users[user.ID] = user
	}
	return nil
}

func appendBounded(records []requestRecord, record requestRecord) []requestRecord {
	records = append(records, record)
	if len(records) > requestHistoryCap {
		records = records[1:]
	}
	return records
}

func querystring(url string) string {
	parts := strings.SplitN(url, "?", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// parseRequestParams extracts a flat string map from a request body: JSON
// objects and multipart forms (text parts only) are understood, anything
// else yields an empty map.
func parseRequestParams(req browser.Request) map[string]string {
	params := map[string]string{}
	if len(req.Body) == 0 {
		return params
	}

	contentType := headerValue(req.Headers, "Content-Type")
	if _, mediaParams, err := mime.ParseMediaType(contentType); err == nil {
		if boundary := mediaParams["boundary"]; boundary != "" {
			reader := multipart.NewReader(bytes.NewReader(req.Body), boundary)
			for {
				part, err := reader.NextPart()
				if err != nil {
					break
				}
				partType := part.Header.Get("Content-Type")
				if partType != "" && !strings.HasPrefix(partType, "text/plain") {
					continue
				}
				var buf bytes.Buffer
				_, _ = buf.ReadFrom(part)
				if name := part.FormName(); name != "" {
					params[name] = buf.String()
				}
			}
			return params
		}
	}

	var decoded map[string]any
	if err := json.Unmarshal(req.Body, &decoded); err != nil {
		return params
	}
	for key, value := range decoded {
		switch v := value.(type) {
		case string:
			params[key] = v
		case float64:
			params[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			params[key] = fmt.Sprintf("%t", v)
		}
	}
	return params
}

func headerValue(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

// ResetCycle drops state that must be re-fetched on every load cycle. Boot,
// the user directory and the request templates are session-scoped and
// survive, so the next cycle starts with a warm directory and can synthesize
// requests immediately.
func (pd *PageData) ResetCycle() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.counts = nil
	pd.threads = nil
	pd.histories = map[string]*ConversationsHistoryResponse{}
}

// Accessors below are safe to call from the loader's polling goroutine while
// browser events are still arriving.

func (pd *PageData) Boot() *ClientBootResponse {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.boot
}

func (pd *PageData) Counts() *ClientCountsResponse {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.counts
}

func (pd *PageData) Threads() *ThreadsViewResponse {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.threads
}

func (pd *PageData) History(channelID string) *ConversationsHistoryResponse {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.histories[channelID]
}

func (pd *PageData) Histories() map[string]*ConversationsHistoryResponse {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	cloned := make(map[string]*ConversationsHistoryResponse, len(pd.histories))
	for id, history := range pd.histories {
		cloned[id] = history
	}
	return cloned
}

func (pd *PageData) HistoryCount() int {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return len(pd.histories)
}

func (pd *PageData) Users() map[string]User {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	cloned := make(map[string]User, len(pd.users))
	for id, user := range pd.users {
		cloned[id] = user
	}
	return cloned
}

func (pd *PageData) UserCount() int {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return len(pd.users)
}
