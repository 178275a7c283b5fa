package browser

import "context"

// Cookie is an opaque credential record supplied by the credential store.
// Fields mirror what the Slack web session needs replayed; Expires is seconds
// since the Unix epoch, zero for session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Request is one observed outbound request: the full URL, the request headers
// and the raw POST body (empty for GET).
type Request struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

type Response struct {
	URL    string
	Status int
	Body   []byte
}

// RequestFinishedHandler receives every completed exchange on the page,
// including fetches issued by scripts evaluated through Evaluate.
type RequestFinishedHandler func(req Request, resp Response)

// Page is a single controllable browser tab. Implementations own the
// underlying browser process or remote connection; Close releases it.
type Page interface {
	Navigate(ctx context.Context, url string) (string, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Evaluate(ctx context.Context, script string) error
	OnRequestFinished(handler RequestFinishedHandler)
	Close() error
}
