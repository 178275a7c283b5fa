package browser

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

type ChromeConfig struct {
	// RemoteURL attaches to an already-running Chrome devtools endpoint
	// (ws://host:port). When empty a headless instance is launched.
	RemoteURL string
	ExecPath  string
}

// ChromePage drives one headless Chrome tab over CDP and surfaces finished
// request/response pairs to a registered handler.
type ChromePage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	mu      sync.Mutex
	handler RequestFinishedHandler
	pending map[network.RequestID]*exchange
}

type exchange struct {
	url     string
	headers map[string]string
	hasBody bool
	status  int
}

func NewChromePage(parent context.Context, cfg ChromeConfig) (*ChromePage, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parent, cfg.RemoteURL)
	} else {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		// Randomized viewport, matching what a desktop client would present.
		opts = append(opts,
			chromedp.WindowSize(1200+rand.Intn(1024), 1600+rand.Intn(1024)),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(parent, opts...)
	}

	ctx, cancel := chromedp.NewContext(allocCtx)
	page := &ChromePage{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		pending:     map[network.RequestID]*exchange{},
	}

	chromedp.ListenTarget(ctx, page.onEvent)

	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		page.Close()
		return nil, fmt.Errorf("enable network interception: %w", err)
	}
	return page, nil
}

func (p *ChromePage) OnRequestFinished(handler RequestFinishedHandler) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

func (p *ChromePage) onEvent(ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		headers := map[string]string{}
		for key, value := range ev.Request.Headers {
			if s, ok := value.(string); ok {
				headers[key] = s
			}
		}
		p.mu.Lock()
		p.pending[ev.RequestID] = &exchange{
			url:     ev.Request.URL,
			headers: headers,
			hasBody: ev.Request.HasPostData,
		}
		p.mu.Unlock()
	case *network.EventResponseReceived:
		p.mu.Lock()
		if pending, ok := p.pending[ev.RequestID]; ok {
			pending.status = int(ev.Response.Status)
		}
		p.mu.Unlock()
	case *network.EventLoadingFinished:
		p.mu.Lock()
		pending, ok := p.pending[ev.RequestID]
		delete(p.pending, ev.RequestID)
		handler := p.handler
		p.mu.Unlock()
		if !ok || handler == nil {
			return
		}
		// Body fetches block on CDP round-trips; never do that inside the
		// event listener goroutine.
		go p.finishExchange(ev.RequestID, pending, handler)
	case *network.EventLoadingFailed:
		p.mu.Lock()
		delete(p.pending, ev.RequestID)
		p.mu.Unlock()
	}
}

func (p *ChromePage) finishExchange(id network.RequestID, pending *exchange, handler RequestFinishedHandler) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	executor := cdp.WithExecutor(p.ctx, c.Target)

	var reqBody []byte
	if pending.hasBody {
		if postData, err := network.GetRequestPostData(id).Do(executor); err == nil {
			reqBody = []byte(postData)
		}
	}
	respBody, err := network.GetResponseBody(id).Do(executor)
	if err != nil {
		// Bodies are evicted for some resource types; report with what we have.
		respBody = nil
	}

	handler(
		Request{URL: pending.url, Headers: pending.headers, Body: reqBody},
		Response{URL: pending.url, Status: pending.status, Body: respBody},
	)
}

func (p *ChromePage) Navigate(ctx context.Context, url string) (string, error) {
	var finalURL string
	err := chromedp.Run(p.ctx,
		chromedp.Navigate(url),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	return finalURL, nil
}

func (p *ChromePage) SetCookies(ctx context.Context, cookies []Cookie) error {
	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, cookie := range cookies {
			param := network.SetCookie(cookie.Name, cookie.Value).
				WithDomain(cookie.Domain).
				WithPath(cookie.Path).
				WithHTTPOnly(cookie.HTTPOnly).
				WithSecure(cookie.Secure)
			if cookie.Expires > 0 {
				expires := cdp.TimeSinceEpoch(timeFromEpochSeconds(cookie.Expires))
				param = param.WithExpires(&expires)
			}
			if sameSite := cookieSameSite(cookie.SameSite); sameSite != "" {
				param = param.WithSameSite(sameSite)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", cookie.Name, err)
			}
		}
		return nil
	}))
}

func (p *ChromePage) Evaluate(ctx context.Context, script string) error {
	return chromedp.Run(p.ctx, chromedp.Evaluate(script, nil))
}

func (p *ChromePage) Close() error {
	p.cancel()
	if p.allocCancel != nil {
		p.allocCancel()
	}
	return nil
}

func timeFromEpochSeconds(seconds float64) time.Time {
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

func cookieSameSite(value string) network.CookieSameSite {
	switch value {
	case "lax", "Lax":
		return network.CookieSameSiteLax
	case "strict", "Strict":
		return network.CookieSameSiteStrict
	case "no_restriction", "None":
		return network.CookieSameSiteNone
	default:
		return ""
	}
}
