package slack

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Request synthesis: fabricate new API calls by replaying the shape of
// requests the web client already made, with our own parameters layered on
// top. The returned scripts are evaluated inside the page so the browser
// attaches cookies itself; responses come back through the normal
// interception path, never as script return values.

// EdgeFetch builds a script calling an edge endpoint. Edge requests carry
// their token in a JSON body, and the earliest observed request is the
// template: later ones can be for narrower cache scopes.
func (pd *PageData) EdgeFetch(name string, params map[string]any) (string, error) {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	if len(pd.edgeRequests) == 0 {
		return "", fmt.Errorf("no edge request observed to synthesize %s from", name)
	}
	if pd.boot == nil {
		return "", fmt.Errorf("no client.boot observed, team id unknown for %s", name)
	}

	record := pd.edgeRequests[0]
	url := fmt.Sprintf("https://edgeapi.slack.com/cache/%s/%s", pd.boot.Self.TeamID, name)
	if record.querystring != "" {
		url += "?" + record.querystring
	}

	// Only the token is carried over from the template request; its other
	// parameters belong to the call it was recorded from.
	merged := make(map[string]any, len(params)+1)
	if token := record.params["token"]; token != "" {
		merged["token"] = token
	}
	for key, value := range params {
		merged[key] = value
	}
	body, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("encode edge request body: %w", err)
	}
	// The edge host is cross-origin from the page; without credentials the
	// browser strips the session cookies.
	return fmt.Sprintf("fetch(%s, {method: %q, credentials: %q, body: %s});",
		jsString(url), "POST", "include", jsString(string(body))), nil
}

// APIFetch builds a script calling an api endpoint. These post multipart
// form data; the most recent observed request carries the freshest token.
func (pd *PageData) APIFetch(name string, params map[string]string) (string, error) {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	if len(pd.apiRequests) == 0 {
		return "", fmt.Errorf("no api request observed to synthesize %s from", name)
	}

	record := pd.apiRequests[len(pd.apiRequests)-1]
	base := record.baseURL
	idx := strings.Index(base, "/api/")
	if idx < 0 {
		return "", fmt.Errorf("observed api request has no /api/ path: %s", base)
	}
	url := base[:idx] + "/api/" + name
	if record.querystring != "" {
		url += "?" + record.querystring
	}

	merged := make(map[string]string, len(params)+1)
	if token := record.params["token"]; token != "" {
		merged["token"] = token
	}
	for key, value := range params {
		merged[key] = value
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("(() => {\n")
	b.WriteString("  const form = new FormData();\n")
	for _, key := range keys {
		fmt.Fprintf(&b, "  form.append(%s, %s);\n", jsString(key), jsString(merged[key]))
	}
	fmt.Fprintf(&b, "  fetch(%s, {method: %q, credentials: %q, body: form});\n", jsString(url), "POST", "include")
	b.WriteString("})();")
	return b.String(), nil
}

// jsString renders a Go string as a JavaScript string literal. JSON string
// encoding is valid JS and handles all the escaping.
func jsString(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}
